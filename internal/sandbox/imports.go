package sandbox

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/nethercore-systems/nethercore/internal/rom"
	"github.com/nethercore-systems/nethercore/internal/staging"
)

// bindImports registers the full guest import surface under module name
// "env", phase-gating each function per SPEC_FULL.md §4.2/§6.
func (g *GuestInstance) bindImports(ctx context.Context) error {
	b := g.runtime.NewHostModuleBuilder("env")

	g.bindDeterministicServices(b)
	g.bindInitOnlyImports(b)
	g.bindRenderOnlyImports(b)

	_, err := b.Instantiate(ctx)
	return err
}

func readGuestString(mod api.Module, ptr, length uint32) string {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return ""
	}
	return string(buf)
}

// --- deterministic-services group ---
// random, random_range, random_f32, random_f32_range, save, load and delete
// trap outside update; the clock, input, log and quit imports are not
// phase-gated.

func (g *GuestInstance) bindDeterministicServices(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) float32 {
		return g.services.Clock.DeltaTime()
	}).Export("delta_time")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) float32 {
		return g.services.Clock.ElapsedTime()
	}).Export("elapsed_time")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint64 {
		return g.services.Clock.TickCount()
	}).Export("tick_count")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) (uint32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		return g.services.RNG.NextU32(), nil
	}).Export("random")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, min, max int32) (int32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		return g.services.RNG.NextI32Range(min, max), nil
	}).Export("random_range")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) (float32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		return g.services.RNG.NextF32(), nil
	}).Export("random_f32")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, min, max float32) (float32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		return g.services.RNG.NextF32Range(min, max), nil
	}).Export("random_f32_range")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint32 {
		return g.input.PlayerCount()
	}).Export("player_count")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint32 {
		return g.input.LocalPlayerMask()
	}).Export("local_player_mask")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, player uint32) uint32 {
		return g.input.ButtonsHeld(player)
	}).Export("input_buttons")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, player uint32) float32 {
		return g.input.StickX(player)
	}).Export("input_stick_x")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, player uint32) float32 {
		return g.input.StickY(player)
	}).Export("input_stick_y")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		// Outside update this returns at once; during update the message is
		// read from guest memory and discarded. No log sink is wired, so a
		// resimulated tick produces no log output either.
		if g.phase != PhaseUpdate {
			return
		}
		_ = readGuestString(mod, ptr, length)
	}).Export("log")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) {
		// Effect deferred to end of tick by the orchestrator; the sandbox
		// only records the request.
		g.quitRequested = true
	}).Export("quit")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, slot, ptr, length uint32) (uint32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		data, err := g.ReadMemorySlice(ptr, length)
		if err != nil {
			return 0, err
		}
		return uint32(g.services.Saves.Save(int(slot), data)), nil
	}).Export("save")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, slot, outPtr, capacity uint32) (uint32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		data, n := g.services.Saves.Load(int(slot), int(capacity))
		if n == 0 {
			return 0, nil
		}
		if err := g.WriteMemorySlice(outPtr, data); err != nil {
			return 0, err
		}
		return uint32(n), nil
	}).Export("load")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, slot uint32) (uint32, error) {
		if err := g.requirePhase(PhaseUpdate); err != nil {
			return 0, err
		}
		return uint32(g.services.Saves.Delete(int(slot))), nil
	}).Export("delete")
}

// --- init-only resource imports (callable only from init) ---

func (g *GuestInstance) bindInitOnlyImports(b wazero.HostModuleBuilder) {
	romTexture := func(kind rom.AssetKind, resKind ResourceKind, stagingKind string) func(context.Context, api.Module, uint32, uint32) (uint32, error) {
		return func(ctx context.Context, mod api.Module, idPtr, idLen uint32) (uint32, error) {
			if err := g.requirePhase(PhaseInit); err != nil {
				return 0, err
			}
			id := readGuestString(mod, idPtr, idLen)
			entry, err := g.assets.GetAsset(kind, id)
			if err != nil {
				if resKind == ResourceTracker {
					return 0, nil // tracker lookups tolerate a miss
				}
				return 0, newTrap(TrapHostFunctionFailure, "%s %q: %v", stagingKind, id, err)
			}
			handle := g.resTable.Issue(resKind)
			g.staging.Pending.Enqueue(staging.PendingResource{GuestID: handle, Kind: stagingKind, Payload: entry.Payload})
			return handle, nil
		}
	}

	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetTexture, ResourceTexture, "texture")).Export("rom_texture")
	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetMesh, ResourceMesh, "mesh")).Export("rom_mesh")
	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetSound, ResourceSound, "sound")).Export("rom_sound")
	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetSkeleton, ResourceSkeleton, "skeleton")).Export("rom_skeleton")
	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetKeyframes, ResourceKeyframes, "keyframes")).Export("rom_keyframes")
	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetFont, ResourceFont, "font")).Export("rom_font")
	b.NewFunctionBuilder().WithFunc(romTexture(rom.AssetTracker, ResourceTracker, "tracker")).Export("rom_tracker")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, idPtr, idLen uint32) (uint32, error) {
		if err := g.requirePhase(PhaseInit); err != nil {
			return 0, err
		}
		id := readGuestString(mod, idPtr, idLen)
		entry, err := g.assets.GetAsset(rom.AssetRaw, id)
		if err != nil {
			return 0, nil
		}
		return uint32(len(entry.Payload)), nil
	}).Export("rom_data_len")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, idPtr, idLen, outPtr, capacity uint32) (uint32, error) {
		if err := g.requirePhase(PhaseInit); err != nil {
			return 0, err
		}
		id := readGuestString(mod, idPtr, idLen)
		entry, err := g.assets.GetAsset(rom.AssetRaw, id)
		if err != nil {
			return 0, nil
		}
		payload := entry.Payload
		if uint32(len(payload)) > capacity {
			payload = payload[:capacity]
		}
		if err := g.WriteMemorySlice(outPtr, payload); err != nil {
			return 0, err
		}
		return uint32(len(payload)), nil
	}).Export("rom_data")
}

// --- render-only imports (callable only from render) ---

func (g *GuestInstance) bindRenderOnlyImports(b wazero.HostModuleBuilder) {
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		g.staging.Ffi.Stack = append(g.staging.Ffi.Stack, staging.Identity())
		return nil
	}).Export("push_identity")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, x, y float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		top := g.staging.Ffi.Top()
		top.TX += x
		top.TY += y
		g.replaceTop(top)
		return nil
	}).Export("translate")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, radians float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		// The angle is not applied: rotate leaves the top transform
		// unchanged, and later draw commands carry no rotation.
		top := g.staging.Ffi.Top()
		g.replaceTop(top)
		_ = radians
		return nil
	}).Export("rotate")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, sx, sy float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		top := g.staging.Ffi.Top()
		top.A *= sx
		top.D *= sy
		g.replaceTop(top)
		return nil
	}).Export("scale")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, r, gr, bl, a float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		g.staging.Ffi.Color = [4]float32{r, gr, bl, a}
		return nil
	}).Export("set_color")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, x, y, w, h float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		g.emitDraw("rect", []float32{x, y, w, h}, 0, "")
		return nil
	}).Export("draw_rect")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, texID uint32, x, y float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		g.emitDraw("sprite", []float32{x, y}, texID, "")
		return nil
	}).Export("draw_sprite")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32, x, y float32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		text := readGuestString(mod, ptr, length)
		g.emitDraw("text", []float32{x, y}, 0, text)
		return nil
	}).Export("draw_text")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, meshID uint32) error {
		if err := g.requirePhase(PhaseRender); err != nil {
			return err
		}
		g.emitDraw("mesh", nil, meshID, "")
		return nil
	}).Export("draw_mesh")
}

func (g *GuestInstance) replaceTop(t staging.Transform) {
	s := g.staging.Ffi.Stack
	if len(s) == 0 {
		g.staging.Ffi.Stack = append(s, t)
		return
	}
	s[len(s)-1] = t
}

func (g *GuestInstance) emitDraw(op string, args []float32, texID uint32, text string) {
	g.staging.Draws.Append(staging.DrawCommand{
		Op:        op,
		Transform: g.staging.Ffi.Top(),
		Color:     g.staging.Ffi.Color,
		TextureID: texID,
		ZIndex:    g.staging.Ffi.ZIndex,
		Args:      args,
		Text:      text,
	})
}
