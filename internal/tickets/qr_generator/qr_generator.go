package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	payloadPrefix = "tkt:"
	imageSize     = 256
)

var ErrInvalidQR = errors.New("invalid QR payload")

// QRGenerator issues opaque QR ids: the ticket id encrypted with AES-CFB under
// a random IV, base64url encoded. The same ticket never gets the same id twice.
type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

func (q *QRGenerator) NewQRID(ticketID string) (string, error) {
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return "", err
	}
	data := []byte(payloadPrefix + ticketID)

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// TicketID recovers the ticket id from a QR id issued with the same secret.
func (q *QRGenerator) TicketID(qrID string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(qrID)
	if err != nil || len(raw) <= aes.BlockSize {
		return "", ErrInvalidQR
	}
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return "", err
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(plain, body)

	s := string(plain)
	if !strings.HasPrefix(s, payloadPrefix) {
		return "", ErrInvalidQR
	}
	return strings.TrimPrefix(s, payloadPrefix), nil
}

// PNG renders the QR id as a scannable image.
func (q *QRGenerator) PNG(qrID string) ([]byte, error) {
	return qrcode.Encode(qrID, qrcode.Medium, imageSize)
}
