package rom

import (
	"bytes"
	"errors"
	"testing"
)

func sampleROM() *ROM {
	code := append([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}, []byte("guestcode")...)
	assets := NewAssetPack()
	assets.Put("hero", AssetTexture, []byte{1, 2, 3, 4})
	assets.Put("villain", AssetTexture, []byte{5, 6, 7, 8})
	assets.Put("theme", AssetSound, []byte{9, 10})

	return &ROM{
		FormatVersion: CurrentVersion,
		Metadata: Metadata{
			ID:             "com.example.mygame",
			Title:          "My Game",
			Author:         "Example Studio",
			Version:        "1.0.0",
			TickRate:       60,
			MaxPlayers:     2,
			NetplayEnabled: true,
			ROMHash:        HashCode(code),
		},
		Code:   code,
		Assets: assets,
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load([]byte("XXXX garbage"))
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestLoadRejectsTruncatedInput(t *testing.T) {
	_, err := Load([]byte{'N', 'C'})
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic for truncated input, got %v", err)
	}
}

func TestEncodeLoadRoundTrip(t *testing.T) {
	original := sampleROM()

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := Load(data)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}

	if !bytes.Equal(data, reencoded) {
		t.Error("round-trip did not produce byte-identical container")
	}
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	r := sampleROM()
	r.FormatVersion = CurrentVersion + 1
	data, err := Encode(r)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	_, err = Load(data)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestValidateAcceptsWellFormedROM(t *testing.T) {
	r := sampleROM()
	if err := Validate(r, Budgets{}); err != nil {
		t.Errorf("expected valid ROM to pass, got %v", err)
	}
}

func TestValidateRejectsBadTickRate(t *testing.T) {
	r := sampleROM()
	r.Metadata.TickRate = 50
	err := Validate(r, Budgets{})
	var ve *ValidateError
	if !errors.As(err, &ve) || ve.Field != "tick_rate" {
		t.Fatalf("expected tick_rate ValidateError, got %v", err)
	}
}

func TestValidateRejectsMaxPlayersOutOfRange(t *testing.T) {
	r := sampleROM()
	r.Metadata.MaxPlayers = 5
	err := Validate(r, Budgets{})
	var ve *ValidateError
	if !errors.As(err, &ve) || ve.Field != "max_players" {
		t.Fatalf("expected max_players ValidateError, got %v", err)
	}
}

func TestValidateRejectsMissingWasmMagic(t *testing.T) {
	r := sampleROM()
	r.Code = []byte("not wasm at all")
	err := Validate(r, Budgets{})
	var ve *ValidateError
	if !errors.As(err, &ve) || ve.Field != "code" {
		t.Fatalf("expected code ValidateError, got %v", err)
	}
}

func TestValidateEnforcesCodeBudget(t *testing.T) {
	r := sampleROM()
	err := Validate(r, Budgets{CodeBudgetBytes: 4})
	var ve *ValidateError
	if !errors.As(err, &ve) || ve.Field != "code" {
		t.Fatalf("expected code-budget ValidateError, got %v", err)
	}
}

func TestGetAssetNotFound(t *testing.T) {
	pack := NewAssetPack()
	_, err := pack.GetAsset(AssetTexture, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAssetWrongKindIsNotFound(t *testing.T) {
	pack := NewAssetPack()
	pack.Put("hero", AssetTexture, []byte{1})

	_, err := pack.GetAsset(AssetMesh, "hero")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for kind mismatch, got %v", err)
	}
}

func TestMeshVertexFlagsStride(t *testing.T) {
	if got := MeshVertexFlags(0).Stride(); got != 12 {
		t.Errorf("expected bare position stride 12, got %d", got)
	}
	full := MeshHasUV | MeshHasColor | MeshHasNormal | MeshHasSkinned | MeshHasTangent
	if got := full.Stride(); got != 12+8+4+12+8+12 {
		t.Errorf("expected full stride %d, got %d", 12+8+4+12+8+12, got)
	}
}
