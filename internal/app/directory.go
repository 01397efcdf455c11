package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
)

// Correspondent describes what a settlement network accepts.
type Correspondent struct {
	Code            string
	Country         string
	Currency        string
	MSISDNPrefix    string
	MSISDNLength    int
	PayoutsDisabled bool
}

// CorrespondentDirectory resolves correspondent codes. The bool result is false for unknown codes;
// an error means the lookup itself failed.
type CorrespondentDirectory interface {
	Lookup(ctx context.Context, code string) (Correspondent, bool, error)
}

// DefaultCorrespondents is the directory used when no CORRESPONDENTS override is configured.
var DefaultCorrespondents = []Correspondent{
	{Code: "MTN_MOMO_ZMB", Country: "ZMB", Currency: "ZMW", MSISDNPrefix: "260", MSISDNLength: 12},
	{Code: "AIRTEL_OAPI_ZMB", Country: "ZMB", Currency: "ZMW", MSISDNPrefix: "260", MSISDNLength: 12},
	{Code: "ZAMTEL_ZMB", Country: "ZMB", Currency: "ZMW", MSISDNPrefix: "260", MSISDNLength: 12},
	{Code: "MTN_MOMO_UGA", Country: "UGA", Currency: "UGX", MSISDNPrefix: "256", MSISDNLength: 12},
	{Code: "AIRTEL_OAPI_UGA", Country: "UGA", Currency: "UGX", MSISDNPrefix: "256", MSISDNLength: 12},
	{Code: "MTN_MOMO_ZMM", Country: "ZMB", Currency: "ZMW", MSISDNPrefix: "260", MSISDNLength: 12, PayoutsDisabled: true},
}

// StaticDirectory is an immutable in-process correspondent directory.
type StaticDirectory struct {
	entries map[string]Correspondent
}

// NewStaticDirectory indexes entries by upper-cased code.
func NewStaticDirectory(entries []Correspondent) *StaticDirectory {
	index := make(map[string]Correspondent, len(entries))
	for _, entry := range entries {
		entry.Code = strings.ToUpper(strings.TrimSpace(entry.Code))
		if entry.Code == "" {
			continue
		}
		index[entry.Code] = entry
	}
	return &StaticDirectory{entries: index}
}

func (d *StaticDirectory) Lookup(_ context.Context, code string) (Correspondent, bool, error) {
	entry, ok := d.entries[strings.ToUpper(strings.TrimSpace(code))]
	return entry, ok, nil
}

// Codes returns the known correspondent codes in sorted order.
func (d *StaticDirectory) Codes() []string {
	codes := make([]string, 0, len(d.entries))
	for code := range d.entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ParseCorrespondents reads the CORRESPONDENTS format:
//
//	CODE=COUNTRY/CURRENCY/PREFIX/LENGTH[/disabled];CODE2=...
//
// Malformed entries are skipped with a warning. An empty string yields DefaultCorrespondents.
func ParseCorrespondents(raw string) []Correspondent {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]Correspondent(nil), DefaultCorrespondents...)
	}

	out := make([]Correspondent, 0)
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		entry, err := parseCorrespondent(item)
		if err != nil {
			log.Printf("level=warn component=config msg=\"ignoring correspondent entry\" entry=%q err=%v", item, err)
			continue
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		log.Printf("level=warn component=config msg=\"no valid correspondent entries, using defaults\"")
		return append([]Correspondent(nil), DefaultCorrespondents...)
	}
	return out
}

func parseCorrespondent(item string) (Correspondent, error) {
	code, attrs, ok := strings.Cut(item, "=")
	if !ok {
		return Correspondent{}, fmt.Errorf("missing '='")
	}
	parts := strings.Split(attrs, "/")
	if len(parts) < 4 || len(parts) > 5 {
		return Correspondent{}, fmt.Errorf("expected COUNTRY/CURRENCY/PREFIX/LENGTH[/disabled]")
	}
	length, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil || length <= 0 {
		return Correspondent{}, fmt.Errorf("invalid msisdn length %q", parts[3])
	}

	entry := Correspondent{
		Code:         strings.ToUpper(strings.TrimSpace(code)),
		Country:      strings.ToUpper(strings.TrimSpace(parts[0])),
		Currency:     strings.ToUpper(strings.TrimSpace(parts[1])),
		MSISDNPrefix: strings.TrimSpace(parts[2]),
		MSISDNLength: length,
	}
	if entry.Code == "" || entry.Country == "" || entry.Currency == "" {
		return Correspondent{}, fmt.Errorf("code, country and currency are required")
	}
	if len(parts) == 5 {
		if !strings.EqualFold(strings.TrimSpace(parts[4]), "disabled") {
			return Correspondent{}, fmt.Errorf("unknown flag %q", parts[4])
		}
		entry.PayoutsDisabled = true
	}
	return entry, nil
}
