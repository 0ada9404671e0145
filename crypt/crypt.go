// Package crypt implements the PDF Standard Security Handler.
//
// Supported are RC4 with a 128-bit key (V2/R3), AES-128 (V4/R4, AESV2) and
// AES-256 (V5/R6, AESV3). Handlers are created either for writing, from a
// pair of passwords, or for reading, by authenticating against an
// existing /Encrypt dictionary.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/secure/precis"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrInvalidParameter = errors.New("invalid encryption parameter")
	ErrUnsupported      = errors.New("unsupported encryption")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Algorithm selects the cipher and key strength.
type Algorithm int

const (
	AES128 Algorithm = iota
	RC4128
	AES256
)

func (a Algorithm) String() string {
	switch a {
	case AES128:
		return "aes128"
	case RC4128:
		return "rc4"
	case AES256:
		return "aes256"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm maps a configuration value to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "aes128", "aes-128", "aes":
		return AES128, nil
	case "rc4", "rc4-128", "rc4128":
		return RC4128, nil
	case "aes256", "aes-256":
		return AES256, nil
	}
	return 0, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidParameter, s)
}

// Handler holds the derived state of the Standard Security Handler.
type Handler struct {
	Algorithm       Algorithm
	V               int
	R               int
	KeyLength       int // bytes
	P               int32
	O, U            []byte
	OE, UE, Perms   []byte
	EncryptMetadata bool
	ID              []byte

	key  []byte
	rand io.Reader
}

// Options configures a new handler.
type Options struct {
	Algorithm       Algorithm
	Permissions     Permissions
	EncryptMetadata bool

	// Rand is the source for IVs and salts, crypto/rand when nil.
	Rand io.Reader
}

// New derives a handler for writing an encrypted document. id is the
// first element of the document's /ID array.
func New(userPassword, ownerPassword string, id []byte, opts Options) (*Handler, error) {
	h := &Handler{
		Algorithm:       opts.Algorithm,
		P:               opts.Permissions.Value(),
		EncryptMetadata: opts.EncryptMetadata,
		ID:              append([]byte(nil), id...),
		rand:            opts.Rand,
	}
	if h.rand == nil {
		h.rand = rand.Reader
	}
	rnd := h.rand
	if ownerPassword == "" {
		ownerPassword = userPassword
	}

	switch opts.Algorithm {
	case RC4128, AES128:
		h.V, h.R, h.KeyLength = 2, 3, 16
		if opts.Algorithm == AES128 {
			h.V, h.R = 4, 4
		} else {
			// EncryptMetadata is an R4+ feature.
			h.EncryptMetadata = true
		}
		user, err := encodeLegacyPassword(userPassword)
		if err != nil {
			return nil, err
		}
		owner, err := encodeLegacyPassword(ownerPassword)
		if err != nil {
			return nil, err
		}
		h.O = h.computeO(user, owner)
		h.key = h.computeKey(user)
		h.U = h.computeU(h.key)
	case AES256:
		h.V, h.R, h.KeyLength = 5, 6, 32
		user, err := encodeUnicodePassword(userPassword)
		if err != nil {
			return nil, err
		}
		owner, err := encodeUnicodePassword(ownerPassword)
		if err != nil {
			return nil, err
		}
		if err := h.initR6(user, owner, rnd); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, opts.Algorithm)
	}
	return h, nil
}

func encodeLegacyPassword(password string) ([]byte, error) {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: password is not representable in PDFDocEncoding", ErrInvalidParameter)
	}
	if len(b) > 32 {
		b = b[:32]
	}
	return b, nil
}

func encodeUnicodePassword(password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	b, err := precis.OpaqueString.Bytes([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if len(b) > 127 {
		b = b[:127]
	}
	return b, nil
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(password []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, password)
	copy(out[n:], passwordPadding)
	return out
}

func rc4XOR(key, data []byte) []byte {
	c, _ := rc4.NewCipher(key)
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

// computeO is algorithm 3 of ISO 32000-1 7.6.3.4.
func (h *Handler) computeO(user, owner []byte) []byte {
	sum := md5.Sum(padPassword(owner))
	key := sum[:]
	for i := 0; i < 50; i++ {
		s := md5.Sum(key[:h.KeyLength])
		key = s[:]
	}
	key = key[:h.KeyLength]

	o := rc4XOR(key, padPassword(user))
	for i := 1; i <= 19; i++ {
		o = rc4XOR(xorKey(key, byte(i)), o)
	}
	return o
}

// computeKey is algorithm 2.
func (h *Handler) computeKey(user []byte) []byte {
	d := md5.New()
	d.Write(padPassword(user))
	d.Write(h.O)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(h.P))
	d.Write(p[:])
	d.Write(h.ID)
	if h.R >= 4 && !h.EncryptMetadata {
		d.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	key := d.Sum(nil)
	for i := 0; i < 50; i++ {
		s := md5.Sum(key[:h.KeyLength])
		key = s[:]
	}
	return key[:h.KeyLength]
}

// computeU is algorithm 5.
func (h *Handler) computeU(key []byte) []byte {
	d := md5.New()
	d.Write(passwordPadding)
	d.Write(h.ID)
	u := rc4XOR(key, d.Sum(nil))
	for i := 1; i <= 19; i++ {
		u = rc4XOR(xorKey(key, byte(i)), u)
	}
	return append(u, make([]byte, 16)...)
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

func (h *Handler) initR6(user, owner []byte, rnd io.Reader) error {
	h.key = make([]byte, 32)
	salts := make([]byte, 32)
	if _, err := io.ReadFull(rnd, h.key); err != nil {
		return err
	}
	if _, err := io.ReadFull(rnd, salts); err != nil {
		return err
	}

	uValidation, uKey := salts[0:8], salts[8:16]
	h.U = append(hashR6(user, uValidation, nil), salts[0:16]...)
	h.UE = aesNoPad(hashR6(user, uKey, nil), h.key)

	oValidation, oKey := salts[16:24], salts[24:32]
	h.O = append(hashR6(owner, oValidation, h.U), salts[16:32]...)
	h.OE = aesNoPad(hashR6(owner, oKey, h.U), h.key)

	perms := make([]byte, 16)
	binary.LittleEndian.PutUint32(perms[0:4], uint32(h.P))
	copy(perms[4:8], []byte{0xff, 0xff, 0xff, 0xff})
	perms[8] = 'F'
	if h.EncryptMetadata {
		perms[8] = 'T'
	}
	copy(perms[9:12], "adb")
	if _, err := io.ReadFull(rnd, perms[12:16]); err != nil {
		return err
	}
	block, _ := aes.NewCipher(h.key)
	h.Perms = make([]byte, 16)
	block.Encrypt(h.Perms, perms)
	return nil
}

// aesNoPad encrypts a 32 byte file key with AES-256-CBC, zero IV.
func aesNoPad(key, data []byte) []byte {
	block, _ := aes.NewCipher(key)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out
}

func aesNoPadDecrypt(key, data []byte) []byte {
	block, _ := aes.NewCipher(key)
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out
}

// hashR6 is algorithm 2.B of ISO 32000-2.
func hashR6(password, salt, udata []byte) []byte {
	d := sha256.New()
	d.Write(password)
	d.Write(salt)
	d.Write(udata)
	k := d.Sum(nil)

	var e []byte
	for round := 0; round < 64 || int(e[len(e)-1]) > round-32; round++ {
		seq := make([]byte, 0, len(password)+len(k)+len(udata))
		seq = append(seq, password...)
		seq = append(seq, k...)
		seq = append(seq, udata...)
		k1 := bytes.Repeat(seq, 64)

		block, _ := aes.NewCipher(k[:16])
		e = make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		switch sum % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		case 2:
			s := sha512.Sum512(e)
			k = s[:]
		}
	}
	return k[:32]
}

// Dict returns the /Encrypt dictionary for this handler.
func (h *Handler) Dict() *pdfobj.Dict {
	d := pdfobj.NewDict()
	d.Set("Filter", pdfobj.Name("Standard"))
	d.Set("V", pdfobj.Integer(h.V))
	d.Set("R", pdfobj.Integer(h.R))
	d.Set("Length", pdfobj.Integer(h.KeyLength*8))
	d.Set("P", pdfobj.Integer(h.P))
	d.Set("O", pdfobj.String{Value: h.O, Hex: true})
	d.Set("U", pdfobj.String{Value: h.U, Hex: true})

	if h.V >= 4 {
		cfm := pdfobj.Name("AESV2")
		if h.V == 5 {
			cfm = "AESV3"
			d.Set("OE", pdfobj.String{Value: h.OE, Hex: true})
			d.Set("UE", pdfobj.String{Value: h.UE, Hex: true})
			d.Set("Perms", pdfobj.String{Value: h.Perms, Hex: true})
		}
		std := pdfobj.NewDict()
		std.Set("Type", pdfobj.Name("CryptFilter"))
		std.Set("AuthEvent", pdfobj.Name("DocOpen"))
		std.Set("CFM", cfm)
		std.Set("Length", pdfobj.Integer(h.KeyLength))
		cf := pdfobj.NewDict()
		cf.Set("StdCF", std)
		d.Set("CF", cf)
		d.Set("StmF", pdfobj.Name("StdCF"))
		d.Set("StrF", pdfobj.Name("StdCF"))
		d.Set("EncryptMetadata", pdfobj.Bool(h.EncryptMetadata))
	}
	return d
}

// Open authenticates password against an /Encrypt dictionary, trying it
// as the user password first and as the owner password second.
func Open(dict *pdfobj.Dict, id []byte, password string) (*Handler, error) {
	if name, _ := dict.Name("Filter"); name != "Standard" {
		return nil, fmt.Errorf("%w: filter %q", ErrUnsupported, name)
	}
	v, _ := dict.Int("V")
	r, _ := dict.Int("R")
	p, _ := dict.Int("P")
	h := &Handler{
		V:               int(v),
		R:               int(r),
		P:               int32(p),
		O:               stringValue(dict.Get("O")),
		U:               stringValue(dict.Get("U")),
		OE:              stringValue(dict.Get("OE")),
		UE:              stringValue(dict.Get("UE")),
		Perms:           stringValue(dict.Get("Perms")),
		EncryptMetadata: true,
		ID:              id,
		rand:            rand.Reader,
	}
	if em, ok := dict.Get("EncryptMetadata").(pdfobj.Bool); ok {
		h.EncryptMetadata = bool(em)
	}

	switch {
	case h.V == 2 && h.R == 3:
		h.Algorithm, h.KeyLength = RC4128, 16
		if l, ok := dict.Int("Length"); ok {
			h.KeyLength = int(l / 8)
		}
		h.EncryptMetadata = true
	case h.V == 4 && h.R == 4:
		h.Algorithm, h.KeyLength = AES128, 16
	case h.V == 5 && h.R == 6:
		h.Algorithm, h.KeyLength = AES256, 32
		return h, h.authenticateR6(password)
	default:
		return nil, fmt.Errorf("%w: V%d R%d", ErrUnsupported, h.V, h.R)
	}
	if len(h.O) < 32 || len(h.U) < 16 || h.KeyLength < 5 || h.KeyLength > 16 {
		return nil, fmt.Errorf("%w: malformed /O or /U", ErrUnsupported)
	}

	pw, err := encodeLegacyPassword(password)
	if err != nil {
		return nil, err
	}
	if h.checkUser(pw) {
		return h, nil
	}

	// Owner password: recover the user password from /O.
	sum := md5.Sum(padPassword(pw))
	key := sum[:]
	for i := 0; i < 50; i++ {
		s := md5.Sum(key[:h.KeyLength])
		key = s[:]
	}
	key = key[:h.KeyLength]
	user := append([]byte(nil), h.O[:32]...)
	for i := 19; i >= 0; i-- {
		user = rc4XOR(xorKey(key, byte(i)), user)
	}
	if h.checkUser(user) {
		return h, nil
	}
	return nil, ErrInvalidPassword
}

func (h *Handler) checkUser(user []byte) bool {
	key := h.computeKey(user)
	if !bytes.Equal(h.computeU(key)[:16], h.U[:16]) {
		return false
	}
	h.key = key
	return true
}

func (h *Handler) authenticateR6(password string) error {
	pw, err := encodeUnicodePassword(password)
	if err != nil {
		return err
	}
	if len(h.U) < 48 || len(h.O) < 48 || len(h.UE) != 32 || len(h.OE) != 32 {
		return fmt.Errorf("%w: malformed R6 dictionary", ErrUnsupported)
	}
	switch {
	case bytes.Equal(hashR6(pw, h.O[32:40], h.U[:48]), h.O[:32]):
		h.key = aesNoPadDecrypt(hashR6(pw, h.O[40:48], h.U[:48]), h.OE)
	case bytes.Equal(hashR6(pw, h.U[32:40], nil), h.U[:32]):
		h.key = aesNoPadDecrypt(hashR6(pw, h.U[40:48], nil), h.UE)
	default:
		return ErrInvalidPassword
	}

	if len(h.Perms) == 16 {
		block, _ := aes.NewCipher(h.key)
		perms := make([]byte, 16)
		block.Decrypt(perms, h.Perms)
		if string(perms[9:12]) != "adb" {
			return fmt.Errorf("%w: /Perms does not match", ErrDecryptionFailed)
		}
	}
	return nil
}

func stringValue(obj pdfobj.Object) []byte {
	if s, ok := obj.(pdfobj.String); ok {
		return s.Value
	}
	return nil
}

// objectKey is algorithm 1: the per-object key for RC4 and AESV2.
func (h *Handler) objectKey(num, gen int) []byte {
	if h.R >= 6 {
		return h.key
	}
	d := md5.New()
	d.Write(h.key)
	d.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), byte(gen), byte(gen >> 8)})
	if h.Algorithm == AES128 {
		d.Write([]byte("sAlT"))
	}
	n := h.KeyLength + 5
	if n > 16 {
		n = 16
	}
	return d.Sum(nil)[:n]
}

// Encrypt encrypts the data of a string or stream of object num/gen.
func (h *Handler) Encrypt(num, gen int, data []byte) ([]byte, error) {
	if h.key == nil {
		return nil, ErrInvalidPassword
	}
	key := h.objectKey(num, gen)
	if h.Algorithm == RC4128 {
		return rc4XOR(key, data), nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, aes.BlockSize+len(data)+pad)
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(h.rand, iv); err != nil {
		return nil, err
	}
	plain := out[aes.BlockSize:]
	copy(plain, data)
	for i := len(data); i < len(plain); i++ {
		plain[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(plain, plain)
	return out, nil
}

// Decrypt reverses Encrypt.
func (h *Handler) Decrypt(num, gen int, data []byte) ([]byte, error) {
	if h.key == nil {
		return nil, ErrInvalidPassword
	}
	key := h.objectKey(num, gen)
	if h.Algorithm == RC4128 {
		return rc4XOR(key, data), nil
	}

	if len(data) == 0 {
		return data, nil
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecryptionFailed, len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(plain, data[aes.BlockSize:])
	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(plain) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryptionFailed)
	}
	return plain[:len(plain)-pad], nil
}
