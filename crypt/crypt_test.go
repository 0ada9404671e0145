package crypt

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

var testID = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}

func TestPermissionsValue(t *testing.T) {
	tests := []struct {
		perms Permissions
		want  int32
	}{
		{PermissionPrint, -3900},
		{0, -3904},
		{PermissionAll, -4},
	}
	for _, tt := range tests {
		if got := tt.perms.Value(); got != tt.want {
			t.Errorf("Permissions(%#x).Value() = %d, want %d", uint32(tt.perms), got, tt.want)
		}
	}
}

func TestParsePermissions(t *testing.T) {
	p, err := ParsePermissions("print, copy")
	if err != nil {
		t.Fatal(err)
	}
	if p != PermissionPrint|PermissionCopy {
		t.Errorf("got %#x", uint32(p))
	}
	if p, _ := ParsePermissions("none"); p != 0 {
		t.Errorf("none = %#x", uint32(p))
	}
	if _, err := ParsePermissions("print,fly"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestAES128KnownValues(t *testing.T) {
	h, err := New("user", "owner", testID, Options{Algorithm: AES128, Permissions: PermissionPrint})
	if err != nil {
		t.Fatal(err)
	}

	if got := hex.EncodeToString(h.O); got != "0ba3835f88f90388e74e54584125ce142be0de24c6b0d37746e075b891756671" {
		t.Errorf("O = %s", got)
	}
	if got := hex.EncodeToString(h.U[:16]); got != "365aa43236cc0ce068522bef934cbfbe" {
		t.Errorf("U = %s", got)
	}
	if got := hex.EncodeToString(h.key); got != "8d4ff2fffe13f53b9e7cf0b9b88e01dc" {
		t.Errorf("file key = %s", got)
	}
	if got := hex.EncodeToString(h.objectKey(5, 0)); got != "0505630e46107b3b929454e0949ec722" {
		t.Errorf("object key = %s", got)
	}
	if h.P != -3900 {
		t.Errorf("P = %d", h.P)
	}
}

func TestEncryptDictAES128(t *testing.T) {
	h, err := New("user", "owner", testID, Options{Algorithm: AES128, Permissions: PermissionPrint})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := pdfobj.AppendObject(&buf, h.Dict()); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"/Filter /Standard", "/V 4", "/R 4", "/Length 128", "/P -3900",
		"/CFM /AESV2", "/AuthEvent /DocOpen", "/StmF /StdCF", "/StrF /StdCF",
		"/EncryptMetadata false",
	} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("encrypt dictionary lacks %q: %s", want, buf.String())
		}
	}
}

func TestRoundTrip(t *testing.T) {
	plain := []byte("BT /F1 9 Tf (Digitally signed) Tj ET")

	for _, alg := range []Algorithm{AES128, RC4128, AES256} {
		t.Run(alg.String(), func(t *testing.T) {
			h, err := New("Contract", "s3cret", testID, Options{Algorithm: alg, Permissions: PermissionPrint})
			if err != nil {
				t.Fatal(err)
			}
			ct, err := h.Encrypt(7, 0, plain)
			if err != nil {
				t.Fatal(err)
			}
			if bytes.Contains(ct, plain) {
				t.Fatal("ciphertext contains the plain text")
			}

			for _, password := range []string{"Contract", "s3cret"} {
				opened, err := Open(h.Dict(), testID, password)
				if err != nil {
					t.Fatalf("Open(%q): %v", password, err)
				}
				got, err := opened.Decrypt(7, 0, ct)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, plain) {
					t.Errorf("decrypted %q, want %q", got, plain)
				}
			}

			if _, err := Open(h.Dict(), testID, "wrong"); !errors.Is(err, ErrInvalidPassword) {
				t.Errorf("expected ErrInvalidPassword, got %v", err)
			}
		})
	}
}

func TestEmptyUserPassword(t *testing.T) {
	h, err := New("", "owner", testID, Options{Algorithm: AES128, Permissions: PermissionPrint})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(h.Dict(), testID, ""); err != nil {
		t.Errorf("empty user password should open: %v", err)
	}
}

func TestPasswordNotEncodable(t *testing.T) {
	_, err := New("中文", "", testID, Options{Algorithm: AES128})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if _, err := New("中文", "", testID, Options{Algorithm: AES256}); err != nil {
		t.Errorf("AES-256 accepts unicode passwords: %v", err)
	}
}

func TestDecryptRejectsTruncatedData(t *testing.T) {
	h, err := New("a", "b", testID, Options{Algorithm: AES128})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Decrypt(1, 0, make([]byte, 20)); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestEncryptFile(t *testing.T) {
	sig := pdfobj.NewDict()
	sig.Set("Type", pdfobj.Name("Sig"))
	sig.Set("ByteRange", pdfobj.Array{pdfobj.Integer(0), pdfobj.Integer(1), pdfobj.Integer(2), pdfobj.Integer(3)})
	sig.Set("Contents", pdfobj.String{Value: []byte{0x30, 0x82}, Hex: true})
	sig.Set("Reason", pdfobj.String{Value: []byte("Contract note")})

	metaDict := pdfobj.NewDict()
	metaDict.Set("Type", pdfobj.Name("Metadata"))
	meta := &pdfobj.Stream{Dict: metaDict, Data: []byte("<x:xmpmeta/>")}

	content := &pdfobj.Stream{Dict: pdfobj.NewDict(), Data: []byte("BT (hello) Tj ET")}

	encrypt := pdfobj.NewDict()
	encrypt.Set("O", pdfobj.String{Value: []byte("leave me")})

	f := &pdfobj.File{
		Version: "1.7",
		Objects: map[int]*pdfobj.Indirect{
			1: {Ref: pdfobj.Ref{Num: 1}, Value: sig},
			2: {Ref: pdfobj.Ref{Num: 2}, Value: meta},
			3: {Ref: pdfobj.Ref{Num: 3}, Value: content},
			4: {Ref: pdfobj.Ref{Num: 4}, Value: encrypt},
		},
		Trailer: pdfobj.NewDict(),
	}
	f.Trailer.Set("Encrypt", pdfobj.Ref{Num: 4})

	h, err := New("user", "owner", testID, Options{Algorithm: AES128, Permissions: PermissionPrint})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.EncryptFile(f); err != nil {
		t.Fatal(err)
	}

	if got := sig.Get("Contents").(pdfobj.String).Value; !bytes.Equal(got, []byte{0x30, 0x82}) {
		t.Errorf("signature contents were encrypted: %x", got)
	}
	if got := sig.Get("Reason").(pdfobj.String).Value; bytes.Equal(got, []byte("Contract note")) {
		t.Error("signature reason left in plain text")
	}
	if string(meta.Data) != "<x:xmpmeta/>" {
		t.Error("metadata stream encrypted although EncryptMetadata is false")
	}
	if string(content.Data) == "BT (hello) Tj ET" {
		t.Error("content stream left in plain text")
	}
	if got := encrypt.Get("O").(pdfobj.String).Value; string(got) != "leave me" {
		t.Error("encrypt dictionary was modified")
	}

	if err := h.DecryptFile(f); err != nil {
		t.Fatal(err)
	}
	if got := sig.Get("Reason").(pdfobj.String).Value; string(got) != "Contract note" {
		t.Errorf("reason after decrypt = %q", got)
	}
	if string(content.Data) != "BT (hello) Tj ET" {
		t.Errorf("content after decrypt = %q", content.Data)
	}
}
