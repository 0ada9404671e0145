package sign

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	signatureByteRangePlaceholder = "[0 ********** ********** **********]"
	maxTimestampResponseSize      = 1 << 20
)

// createSignaturePlaceholder returns the signature dictionary together
// with the offsets of the ByteRange array and the /Contents hex string
// relative to the start of the dictionary.
func (context *SignContext) createSignaturePlaceholder() (dssd string, byte_range_start_byte int64, signature_contents_start_byte int64) {
	// Using a buffer because it's way faster than concatenating.
	var signature_buffer bytes.Buffer
	signature_buffer.WriteString("<< /Type /Sig")
	signature_buffer.WriteString(" /Filter /Adobe.PPKLite")
	signature_buffer.WriteString(" /SubFilter /adbe.pkcs7.detached")

	// Create a placeholder for the byte range string, we will replace it later.
	signature_buffer.WriteString(" /ByteRange")
	byte_range_start_byte = int64(signature_buffer.Len())
	signature_buffer.WriteString(signatureByteRangePlaceholder)

	// Create a placeholder for the actual signature content, we will replace it later.
	signature_buffer.WriteString(" /Contents")
	signature_contents_start_byte = int64(signature_buffer.Len())
	signature_buffer.WriteString("<")
	signature_buffer.Write(bytes.Repeat([]byte("0"), int(context.SignatureMaxLength)))
	signature_buffer.WriteString(">")

	info := context.SignData.Signature
	if info.Name != "" {
		signature_buffer.WriteString(" /Name ")
		signature_buffer.WriteString(pdfString(info.Name))
	}
	if info.Location != "" {
		signature_buffer.WriteString(" /Location ")
		signature_buffer.WriteString(pdfString(info.Location))
	}
	if info.Reason != "" {
		signature_buffer.WriteString(" /Reason ")
		signature_buffer.WriteString(pdfString(info.Reason))
	}
	if info.ContactInfo != "" {
		signature_buffer.WriteString(" /ContactInfo ")
		signature_buffer.WriteString(pdfString(info.ContactInfo))
	}
	signature_buffer.WriteString(" /M ")
	signature_buffer.WriteString(pdfDateTime(info.Date))
	signature_buffer.WriteString(" >>")

	return signature_buffer.String(), byte_range_start_byte, signature_contents_start_byte
}

// SignatureBuilder produces detached CMS SignedData containers for one
// credential. The same builder is used to reseal a document after
// encryption.
type SignatureBuilder struct {
	Certificate     *x509.Certificate
	Issuers         []*x509.Certificate
	Signer          crypto.Signer
	DigestAlgorithm crypto.Hash
	TSA             TSA
	HTTPClient      *http.Client
}

func (b *SignatureBuilder) createSigningCertificateAttribute() (*pkcs7.Attribute, error) {
	hash := b.DigestAlgorithm.New()
	hash.Write(b.Certificate.Raw)

	var builder cryptobyte.Builder
	builder.AddASN1(cryptobyte_asn1.SEQUENCE, func(builder *cryptobyte.Builder) { // SigningCertificateV2
		builder.AddASN1(cryptobyte_asn1.SEQUENCE, func(builder *cryptobyte.Builder) { // []ESSCertIDv2
			builder.AddASN1(cryptobyte_asn1.SEQUENCE, func(builder *cryptobyte.Builder) { // ESSCertIDv2
				if b.DigestAlgorithm != crypto.SHA256 { // default SHA-256
					builder.AddASN1(cryptobyte_asn1.SEQUENCE, func(builder *cryptobyte.Builder) { // AlgorithmIdentifier
						builder.AddASN1ObjectIdentifier(digestOIDs[b.DigestAlgorithm])
					})
				}
				builder.AddASN1OctetString(hash.Sum(nil)) // certHash
			})
		})
	})

	sse, err := builder.Bytes()
	if err != nil {
		return nil, err
	}
	return &pkcs7.Attribute{
		Type:  asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}, // SigningCertificateV2
		Value: asn1.RawValue{FullBytes: sse},
	}, nil
}

// Build signs sign_content, the concatenated byte ranges of a document.
func (b *SignatureBuilder) Build(ctx context.Context, sign_content []byte) (*SignatureContainer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Initialize pkcs7 signer.
	signed_data, err := pkcs7.NewSignedData(sign_content)
	if err != nil {
		return nil, fmt.Errorf("new signed data: %w", err)
	}

	signed_data.SetDigestAlgorithm(digestOIDs[b.DigestAlgorithm])
	signingCertificate, err := b.createSigningCertificateAttribute()
	if err != nil {
		return nil, fmt.Errorf("signing certificate attribute: %w", err)
	}

	signer_config := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{*signingCertificate},
	}

	// Add the signer and sign the data.
	if err := signed_data.AddSignerChain(b.Certificate, b.Signer, b.Issuers, signer_config); err != nil {
		return nil, fmt.Errorf("add signer chain: %w", err)
	}

	// PDF needs a detached signature, meaning the content isn't included.
	signed_data.Detach()

	signature_data := signed_data.GetSignedData()
	container := &SignatureContainer{
		DigestAlgorithm: b.DigestAlgorithm,
		Chain:           append([]*x509.Certificate{b.Certificate}, b.Issuers...),
		SignatureValue:  signature_data.SignerInfos[0].EncryptedDigest,
	}

	if b.TSA.URL != "" {
		timestamp_response, err := b.GetTSA(ctx, container.SignatureValue)
		if err != nil {
			return nil, fmt.Errorf("get timestamp: %w", err)
		}

		ts, err := timestamp.ParseResponse(timestamp_response)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}

		_, err = pkcs7.Parse(ts.RawToken)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp token: %w", err)
		}

		timestamp_attribute := pkcs7.Attribute{
			Type:  asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14},
			Value: asn1.RawValue{FullBytes: ts.RawToken},
		}
		if err := signature_data.SignerInfos[0].SetUnauthenticatedAttributes([]pkcs7.Attribute{timestamp_attribute}); err != nil {
			return nil, err
		}
		container.Timestamp = ts.RawToken
	}

	der, err := signed_data.Finish()
	if err != nil {
		return nil, fmt.Errorf("finish signed data: %w", err)
	}
	container.DER = der

	parsed, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parse signed data: %w", err)
	}
	if err := parsed.UnmarshalSignedAttribute(pkcs7.OIDAttributeMessageDigest, &container.MessageDigest); err != nil {
		return nil, fmt.Errorf("read message digest: %w", err)
	}

	return container, nil
}

// GetTSA requests an RFC 3161 timestamp over sign_content.
func (b *SignatureBuilder) GetTSA(ctx context.Context, sign_content []byte) (timestamp_response []byte, err error) {
	sign_reader := bytes.NewReader(sign_content)
	ts_request, err := timestamp.CreateRequest(sign_reader, &timestamp.RequestOptions{
		Hash:         b.DigestAlgorithm,
		Certificates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.TSA.URL, bytes.NewReader(ts_request))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request (%s): %w", b.TSA.URL, err)
	}

	req.Header.Add("Content-Type", "application/timestamp-query")
	req.Header.Add("Content-Transfer-Encoding", "binary")

	if b.TSA.Username != "" && b.TSA.Password != "" {
		req.SetBasicAuth(b.TSA.Username, b.TSA.Password)
	}

	client := b.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timestamp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.New("non success response (" + strconv.Itoa(resp.StatusCode) + "): " + string(body))
	}

	timestamp_response_body, err := io.ReadAll(io.LimitReader(resp.Body, maxTimestampResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return timestamp_response_body, nil
}
