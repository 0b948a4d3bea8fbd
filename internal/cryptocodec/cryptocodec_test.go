package cryptocodec

import "testing"

func testKey() []byte {
	k := make([]byte, keySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	cases := []struct {
		name      string
		plaintext string
		aad       string
	}{
		{"simple token", "access-token-abc123", "conn-1"},
		{"empty aad", "access-token-abc123", ""},
		{"long token", "a-very-long-oauth-access-token-that-wont-fit-in-one-block-of-aes", "conn-42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext, tc.aad)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if ciphertext == tc.plaintext {
				t.Fatalf("ciphertext must not equal plaintext")
			}

			got, err := enc.Decrypt(ciphertext, tc.aad)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if got != tc.plaintext {
				t.Fatalf("got %q, want %q", got, tc.plaintext)
			}
		})
	}
}

func TestDecryptWrongAADFails(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	ciphertext, err := enc.Encrypt("secret-token", "conn-1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := enc.Decrypt(ciphertext, "conn-2"); err == nil {
		t.Fatal("expected decryption to fail with mismatched AAD")
	}
}

func TestNewEncryptorRejectsBadKeySize(t *testing.T) {
	if _, err := NewEncryptor(make([]byte, 16)); err != ErrKeySize {
		t.Fatalf("expected ErrKeySize, got %v", err)
	}
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	if _, err := enc.Decrypt("dG9vc2hvcnQ=", "conn-1"); err == nil {
		t.Fatal("expected truncated ciphertext to fail")
	}
}
