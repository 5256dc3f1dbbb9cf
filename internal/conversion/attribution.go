package conversion

import (
	"github.com/wolfman30/leadstitch/internal/correlation"
	"github.com/wolfman30/leadstitch/internal/leads"
)

// attributionFrom collects the marketing fields carried by a match. The
// pending record wins, then the click trace, then the device fingerprint.
func attributionFrom(m correlation.MatchResult) leads.Attribution {
	var a leads.Attribution
	if p := m.Pending; p != nil {
		cm := p.ClickMetadata
		a.Merge(leads.Attribution{
			UTMSource:        p.UTM.Source,
			UTMMedium:        p.UTM.Medium,
			UTMCampaign:      p.UTM.Campaign,
			UTMContent:       p.UTM.Content,
			UTMTerm:          p.UTM.Term,
			CtwaClid:         cm.CtwaClid,
			Fbclid:           cm.Fbclid,
			Gclid:            cm.Gclid,
			DeviceSessionID:  cm.DeviceSessionID,
			ScreenResolution: cm.ScreenResolution,
			Timezone:         cm.Timezone,
			Language:         cm.Language,
			IPAddress:        cm.IPAddress,
		})
	}
	if t := m.Trace; t != nil {
		a.Merge(leads.Attribution{
			CtwaClid:    t.ClickID,
			AdSourceURL: t.SourceURL,
			AdSourceID:  t.SourceID,
			IPAddress:   t.IPAddress,
		})
	}
	if fp := m.Fingerprint; fp != nil {
		a.Merge(leads.Attribution{
			DeviceSessionID:  fp.DeviceSessionID,
			Browser:          fp.Browser,
			OS:               fp.OS,
			DeviceType:       fp.DeviceType,
			ScreenResolution: fp.ScreenResolution,
			Timezone:         fp.Timezone,
			Language:         fp.Language,
			City:             fp.City,
			Region:           fp.Region,
			Country:          fp.Country,
		})
	}
	return a
}
