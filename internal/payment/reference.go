package payment

import (
	"fmt"
	"strings"

	"github.com/speps/go-hashids/v2"
)

// ReferenceCodec turns numeric payment row ids into the short opaque
// references merchants see ("PAY-86RF07"), so internal ids never leak
// through the API.
type ReferenceCodec struct {
	h *hashids.HashID
}

const referencePrefix = "PAY-"

func NewReferenceCodec(salt string) (*ReferenceCodec, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = 8
	hd.Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("reference codec: %w", err)
	}
	return &ReferenceCodec{h: h}, nil
}

func (c *ReferenceCodec) Encode(id int64) (string, error) {
	ref, err := c.h.EncodeInt64([]int64{id})
	if err != nil {
		return "", fmt.Errorf("encode reference: %w", err)
	}
	return referencePrefix + ref, nil
}

func (c *ReferenceCodec) Decode(reference string) (int64, error) {
	body := strings.TrimPrefix(strings.TrimSpace(reference), referencePrefix)
	ids, err := c.h.DecodeInt64WithError(body)
	if err != nil || len(ids) != 1 {
		return 0, fmt.Errorf("invalid payment reference %q", reference)
	}
	return ids[0], nil
}
