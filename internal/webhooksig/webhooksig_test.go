package webhooksig

import (
	"errors"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"orderId":"1001"}`)
	header, err := Sign("s3cret", body, now)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name    string
		secret  string
		body    []byte
		header  string
		now     time.Time
		wantErr bool
	}{
		{name: "valid", secret: "s3cret", body: body, header: header, now: now},
		{name: "within tolerance", secret: "s3cret", body: body, header: header, now: now.Add(4 * time.Minute)},
		{name: "expired", secret: "s3cret", body: body, header: header, now: now.Add(10 * time.Minute), wantErr: true},
		{name: "wrong secret", secret: "other", body: body, header: header, now: now, wantErr: true},
		{name: "tampered body", secret: "s3cret", body: []byte(`{"orderId":"1002"}`), header: header, now: now, wantErr: true},
		{name: "missing header", secret: "s3cret", body: body, header: "", now: now, wantErr: true},
		{name: "malformed header", secret: "s3cret", body: body, header: "t=abc, v1", now: now, wantErr: true},
		{name: "missing v1", secret: "s3cret", body: body, header: "t=1700000000", now: now, wantErr: true},
		{name: "v1 not bytes", secret: "s3cret", body: body, header: `t=1700000000, v1="abc"`, now: now, wantErr: true},
		{name: "no secret", secret: "", body: body, header: header, now: now, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, tt.body, tt.header, tt.now, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestVerifyHMACBase64(t *testing.T) {
	body := []byte("payload")
	good := HMACBase64("key", body)

	if err := VerifyHMACBase64("key", body, good); err != nil {
		t.Errorf("VerifyHMACBase64(valid) error = %v", err)
	}
	for name, got := range map[string]string{"missing": "", "not base64": "%%%", "wrong": HMACBase64("other", body)} {
		if err := VerifyHMACBase64("key", body, got); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("VerifyHMACBase64(%s) error = %v, want ErrInvalidSignature", name, err)
		}
	}
}
