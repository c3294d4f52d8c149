package mpd

import (
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// Element is an arbitrary XML element nested inside a ContentProtection
// element, per original_source/packager/mpd/base/content_protection_element.h.
type Element struct {
	Name       string
	Attributes map[string]string
	Content    string
	Subelements []Element
}

// ContentProtectionElement represents one <ContentProtection> element, per
// ISO/IEC 23009-1:2012 and original_source's ContentProtectionElement.
type ContentProtectionElement struct {
	Value                string
	SchemeIDURI          string
	AdditionalAttributes map[string]string
	Subelements          []Element
}

// FormatKeyID renders a 16-byte CENC default_KID as the canonical
// hyphenated UUID string DASH expects
// (cenc:default_KID="XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX").
func FormatKeyID(keyID []byte) (string, error) {
	id, err := uuid.FromBytes(keyID)
	if err != nil {
		return "", errs.Wrapf(err, "mpd: format key id")
	}
	return id.String(), nil
}

// PsshUUID validates and canonicalizes a DRM system ID string into the
// lowercase hyphenated form the `pssh` element's scheme URI embeds.
func PsshUUID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", errs.Wrapf(err, "mpd: parse pssh system id")
	}
	return id.String(), nil
}

// cencContentProtection builds the default cenc: namespaced
// ContentProtection element for a stream's default key id, per the DASH
// CENC mapping (MPEG-DASH CENC v2).
func cencContentProtection(defaultKeyID []byte) (ContentProtectionElement, error) {
	kid, err := FormatKeyID(defaultKeyID)
	if err != nil {
		return ContentProtectionElement{}, err
	}
	return ContentProtectionElement{
		SchemeIDURI: "urn:mpeg:dash:mp4protection:2011",
		Value:       "cenc",
		AdditionalAttributes: map[string]string{
			"cenc:default_KID": kid,
		},
	}, nil
}

// drmContentProtection builds one DRM-specific ContentProtection element
// carrying a base64 cenc:pssh child, keyed by the DRM system's UUID.
func drmContentProtection(entry ContentProtectionEntry) (ContentProtectionElement, error) {
	sysID, err := PsshUUID(entry.UUID)
	if err != nil {
		return ContentProtectionElement{}, err
	}
	elem := ContentProtectionElement{
		SchemeIDURI: "urn:uuid:" + sysID,
		AdditionalAttributes: map[string]string{
			"value": entry.NameVersion,
		},
	}
	if len(entry.Pssh) > 0 {
		elem.Subelements = append(elem.Subelements, Element{
			Name:    "cenc:pssh",
			Content: base64.StdEncoding.EncodeToString(entry.Pssh),
		})
	}
	return elem, nil
}
