// Package emv encodes and decodes the PIX "copy-and-paste" payload: a flat
// TLV string (2-digit tag, 2-digit length, value) terminated by a CRC-16
// checksum field. The output must be byte-exact; wallet scanners reject any
// deviation.
package emv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	tagPayloadFormat     = "00"
	tagInitiationMethod  = "01"
	tagMerchantAccount   = "26"
	tagMerchantCategory  = "52"
	tagCurrency          = "53"
	tagAmount            = "54"
	tagCountry           = "58"
	tagMerchantName      = "59"
	tagMerchantCity      = "60"
	tagAdditionalData    = "62"
	tagCRC               = "63"
	subTagGUI            = "00"
	subTagKey            = "01"
	subTagDescription    = "02"
	subTagReferenceLabel = "05"
	subTagTxID           = "07"

	pixGUI = "br.gov.bcb.pix"

	// Point of initiation method: 11 = static (reusable), 12 = dynamic
	// (single use).
	initiationStatic  = "11"
	initiationDynamic = "12"

	maxMerchantName = 25
)

// Payload describes a PIX charge to be encoded.
type Payload struct {
	Key          string
	MerchantName string
	MerchantCity string
	Description  string // optional, merchant account sub-field
	Reference    string // optional, additional-data reference label (05)
	TxID         string // optional, additional-data transaction id (07)
	Amount       decimal.Decimal
	Dynamic      bool // dynamic codes carry the amount and are single use
}

// Encode serializes the payload into the EMV TLV string, CRC included.
func Encode(p Payload) (string, error) {
	if p.Key == "" {
		return "", fmt.Errorf("pix key is required")
	}
	if p.MerchantCity == "" {
		return "", fmt.Errorf("merchant city is required")
	}

	name := p.MerchantName
	if name == "" {
		return "", fmt.Errorf("merchant name is required")
	}
	if len(name) > maxMerchantName {
		name = name[:maxMerchantName]
	}

	var b strings.Builder

	field(&b, tagPayloadFormat, "01")
	if p.Dynamic {
		field(&b, tagInitiationMethod, initiationDynamic)
	} else {
		field(&b, tagInitiationMethod, initiationStatic)
	}

	var mai strings.Builder
	field(&mai, subTagGUI, pixGUI)
	if err := checkedField(&mai, subTagKey, p.Key); err != nil {
		return "", err
	}
	if p.Description != "" {
		if err := checkedField(&mai, subTagDescription, p.Description); err != nil {
			return "", err
		}
	}
	if err := checkedField(&b, tagMerchantAccount, mai.String()); err != nil {
		return "", err
	}

	field(&b, tagMerchantCategory, "0000")
	field(&b, tagCurrency, "986")
	if p.Dynamic {
		if !p.Amount.IsPositive() {
			return "", fmt.Errorf("dynamic payload requires a positive amount")
		}
		field(&b, tagAmount, p.Amount.StringFixed(2))
	}
	field(&b, tagCountry, "BR")
	field(&b, tagMerchantName, name)
	if err := checkedField(&b, tagMerchantCity, p.MerchantCity); err != nil {
		return "", err
	}

	var add strings.Builder
	switch {
	case p.TxID != "":
		if err := checkedField(&add, subTagTxID, p.TxID); err != nil {
			return "", err
		}
	case p.Reference != "":
		if err := checkedField(&add, subTagReferenceLabel, p.Reference); err != nil {
			return "", err
		}
	}
	if add.Len() > 0 {
		if err := checkedField(&b, tagAdditionalData, add.String()); err != nil {
			return "", err
		}
	}

	// The CRC is computed over everything written so far plus the tag and
	// length of the CRC field itself.
	b.WriteString(tagCRC + "04")
	crc := fmt.Sprintf("%04X", crc16(b.String()))
	b.WriteString(crc)

	return b.String(), nil
}

// Validate recomputes the checksum of a full payload and compares it,
// case-insensitively, against the trailing four hex digits.
func Validate(payload string) bool {
	if len(payload) < 8 {
		return false
	}
	body := payload[:len(payload)-4] // still ends with "6304"
	if !strings.HasSuffix(body, tagCRC+"04") {
		return false
	}
	want := fmt.Sprintf("%04X", crc16(body))
	return strings.EqualFold(want, payload[len(payload)-4:])
}

// Decoded holds the fields recovered from a payload.
type Decoded struct {
	PayloadFormat    string
	InitiationMethod string
	GUI              string
	Key              string
	Description      string
	MerchantCategory string
	Currency         string
	Amount           string
	Country          string
	MerchantName     string
	MerchantCity     string
	Reference        string
	TxID             string
	CRC              string
}

// Dynamic reports whether the payload declared itself single-use.
func (d *Decoded) Dynamic() bool {
	return d.InitiationMethod == initiationDynamic
}

// Decode parses a payload into its fields. Any malformed tag, length, or
// truncated value fails the whole decode. The checksum is not verified here;
// use Validate.
func Decode(payload string) (*Decoded, error) {
	top, err := parseTLV(payload)
	if err != nil {
		return nil, err
	}

	d := &Decoded{
		PayloadFormat:    top[tagPayloadFormat],
		InitiationMethod: top[tagInitiationMethod],
		MerchantCategory: top[tagMerchantCategory],
		Currency:         top[tagCurrency],
		Amount:           top[tagAmount],
		Country:          top[tagCountry],
		MerchantName:     top[tagMerchantName],
		MerchantCity:     top[tagMerchantCity],
		CRC:              top[tagCRC],
	}
	if d.PayloadFormat == "" {
		return nil, fmt.Errorf("missing payload format indicator")
	}

	if mai, ok := top[tagMerchantAccount]; ok {
		sub, err := parseTLV(mai)
		if err != nil {
			return nil, fmt.Errorf("merchant account info: %w", err)
		}
		d.GUI = sub[subTagGUI]
		d.Key = sub[subTagKey]
		d.Description = sub[subTagDescription]
	}
	if add, ok := top[tagAdditionalData]; ok {
		sub, err := parseTLV(add)
		if err != nil {
			return nil, fmt.Errorf("additional data: %w", err)
		}
		d.Reference = sub[subTagReferenceLabel]
		d.TxID = sub[subTagTxID]
	}

	return d, nil
}

func parseTLV(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for i := 0; i < len(s); {
		if i+4 > len(s) {
			return nil, fmt.Errorf("truncated field header at offset %d", i)
		}
		tag := s[i : i+2]
		length, err := strconv.Atoi(s[i+2 : i+4])
		if err != nil {
			return nil, fmt.Errorf("invalid length for tag %s: %w", tag, err)
		}
		if i+4+length > len(s) {
			return nil, fmt.Errorf("tag %s declares %d bytes past end of payload", tag, length)
		}
		fields[tag] = s[i+4 : i+4+length]
		i += 4 + length
	}
	return fields, nil
}

func field(b *strings.Builder, tag, value string) {
	fmt.Fprintf(b, "%s%02d%s", tag, len(value), value)
}

func checkedField(b *strings.Builder, tag, value string) error {
	if len(value) > 99 {
		return fmt.Errorf("tag %s value exceeds 99 bytes (%d)", tag, len(value))
	}
	field(b, tag, value)
	return nil
}
