package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// CurrentSchemaVersion is the version Encode writes.
const CurrentSchemaVersion uint8 = 1

// MaxFieldLength is the longest AccountID or Secret Encode accepts; each is
// written behind a one-byte length.
const MaxFieldLength = 255

var errUnsupportedSchema = errors.New("unsupported session schema version")

// Encode serializes s. The session id is not part of the blob; it is the key.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if len(s.AccountID) > MaxFieldLength {
		return nil, errors.New("accountID too long")
	}
	buf.WriteByte(byte(len(s.AccountID)))
	buf.WriteString(s.AccountID)

	if len(s.Secret) > MaxFieldLength {
		return nil, errors.New("secret too long")
	}
	buf.WriteByte(byte(len(s.Secret)))
	buf.WriteString(s.Secret)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", errUnsupportedSchema, version)
	}

	s := &Session{SchemaVersion: version}

	accountLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	accountID := make([]byte, accountLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	s.AccountID = string(accountID)

	secretLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	secret := make([]byte, secretLen)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, err
	}
	s.Secret = string(secret)

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return s, nil
}
