package nchs

import "testing"

func TestGenerateCodeIsValid(t *testing.T) {
	code, err := GenerateCode()
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if !ValidCode(code) {
		t.Fatalf("generated code %q failed ValidCode", code)
	}
}

func TestStaticResolverRoundTrip(t *testing.T) {
	r := NewStaticResolver()
	code, err := r.Register("1.2.3.4:7777")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	endpoint, err := r.Resolve(code)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint != "1.2.3.4:7777" {
		t.Fatalf("expected endpoint 1.2.3.4:7777, got %s", endpoint)
	}

	r.Forget(code)
	if _, err := r.Resolve(code); err != ErrCodeNotFound {
		t.Fatalf("expected ErrCodeNotFound after Forget, got %v", err)
	}
}
