package lnurldevice

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fiatjaf/go-lnurl"
)

// Link is a bech32 LNURL a device can print or display.
type Link struct {
	// Profile indexes the switch profile; -1 for the device's base link.
	Profile     int    `json:"profile"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	LNURL       string `json:"lnurl"`
}

// OfferURL is the v2 offer endpoint for a device.
func (s *Service) OfferURL(deviceID string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/offer/v2/" + url.PathEscape(deviceID)
}

// Links returns one link per switch profile, or the base offer link for
// terminals and ATMs, whose firmware appends the token itself.
func (s *Service) Links(d *Device) ([]Link, error) {
	base := s.OfferURL(d.ID)

	sw, ok := d.Behavior.(Switch)
	if !ok {
		encoded, err := lnurl.LNURLEncode(base)
		if err != nil {
			return nil, fmt.Errorf("encode lnurl: %w", err)
		}
		return []Link{{Profile: -1, URL: base, LNURL: encoded}}, nil
	}

	links := make([]Link, 0, len(sw.Profiles))
	for i, p := range sw.Profiles {
		q := url.Values{}
		q.Set("pin", strconv.Itoa(p.Pin))
		q.Set("amount", p.Amount.String())
		q.Set("duration", strconv.Itoa(p.DurationMs))
		q.Set("variable", strconv.FormatBool(p.Variable))
		q.Set("comment", strconv.FormatBool(p.Comment))
		u := base + "?" + q.Encode()

		encoded, err := lnurl.LNURLEncode(u)
		if err != nil {
			return nil, fmt.Errorf("encode lnurl for profile %d: %w", i, err)
		}
		links = append(links, Link{Profile: i, Description: p.Description, URL: u, LNURL: encoded})
	}
	return links, nil
}
