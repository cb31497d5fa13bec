package otp

import (
	"bytes"
	"image/png"
	"net/url"
	"strconv"
	"strings"

	"github.com/pquerna/otp"
)

// Provisioning is what a new device needs: the secret, the otpauth URI and
// the same URI rendered as a QR code PNG.
type Provisioning struct {
	Secret string
	URI    string
	PNG    []byte
}

// GenerateSecret draws a new secret and builds its provisioning artifacts.
// label may be empty.
func (p *Provider) GenerateSecret(label string) (*Provisioning, error) {
	secret, err := p.NewSecret()
	if err != nil {
		return nil, err
	}
	return p.Provision(secret, label)
}

// Provision builds the provisioning artifacts for an existing secret.
func (p *Provider) Provision(secret, label string) (*Provisioning, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	uri := p.uri(secret, label)

	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(p.cfg.QRSize, p.cfg.QRSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Provisioning{
		Secret: secret,
		URI:    uri,
		PNG:    buf.Bytes(),
	}, nil
}

func (p *Provider) uri(secret, label string) string {
	name := p.cfg.Issuer
	if label != "" {
		if name != "" {
			name += ":"
		}
		name += label
	}

	v := url.Values{}
	v.Set("secret", secret)
	if p.cfg.Issuer != "" {
		v.Set("issuer", p.cfg.Issuer)
	}
	v.Set("digits", strconv.Itoa(p.cfg.Digits))
	alg := strings.ToUpper(p.cfg.Algorithm)
	if alg == "" {
		alg = "SHA1"
	}
	v.Set("algorithm", alg)
	if p.cfg.Mode == ModeHOTP {
		v.Set("counter", "0")
	} else {
		v.Set("period", strconv.FormatUint(uint64(p.cfg.Period), 10))
	}

	return "otpauth://" + string(p.cfg.Mode) + "/" + url.PathEscape(name) + "?" + v.Encode()
}
