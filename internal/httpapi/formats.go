package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bgpfix/rpkid/internal/payloadset"
	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/validator"
)

// RenderInput is everything an output formatter needs: the filtered,
// labelled payloads plus the per-TAL counters `summary` reports.
type RenderInput struct {
	VRPs       []rpki.Payload
	RouterKeys []rpki.Payload
	ASPAs      []rpki.Payload
	Stats      map[string]validator.TALStats
	Generated  time.Time
}

// Render selects a payload set's contents and per-TAL stats into a
// RenderInput, applying the query-parameter filter (spec §6).
func Render(set *payloadset.Set, f Filter, now time.Time) RenderInput {
	in := RenderInput{Stats: set.Stats(), Generated: now}
	for _, p := range set.Payloads() {
		switch p.Kind {
		case rpki.PayloadVRP:
			if f.ExcludeRouteOrigins || f.HasASN && p.VRP.ASN != f.ASN || !f.MatchesPrefix(p.VRP.Prefix) {
				continue
			}
			in.VRPs = append(in.VRPs, p)
		case rpki.PayloadRouterKey:
			if f.ExcludeRouterKeys || f.HasASN && p.RouterKey.ASN != f.ASN {
				continue
			}
			in.RouterKeys = append(in.RouterKeys, p)
		case rpki.PayloadASPA:
			if f.ExcludeASPAs || f.HasASN && p.ASPA.Customer != f.ASN {
				continue
			}
			in.ASPAs = append(in.ASPAs, p)
		}
	}
	return in
}

// Formatter renders a RenderInput into one output-format's content type
// and body (spec §6: "one path per output format name").
type Formatter func(RenderInput) (contentType string, body []byte)

var formatters = map[string]Formatter{
	"json":      formatJSON,
	"csv":       formatCSV,
	"csvext":    formatCSVExt,
	"csvcompat": formatCSVCompat,
	"openbgpd":  formatOpenBGPD,
	"bird1":     formatBird1,
	"bird2":     formatBird2,
	"rpsl":      formatRPSL,
	"slurm":     formatSLURM,
	"summary":   formatSummary,
}

type jsonDoc struct {
	Metadata struct {
		Generated     int64  `json:"generated"`
		GeneratedTime string `json:"generatedTime"`
	} `json:"metadata"`
	ROAs       []jsonROA       `json:"roas"`
	RouterKeys []jsonRouterKey `json:"routerKeys"`
	ASPAs      []jsonASPA      `json:"aspas"`
}

type jsonROA struct {
	ASN       string `json:"asn"`
	Prefix    string `json:"prefix"`
	MaxLength uint8  `json:"maxLength"`
	TA        string `json:"ta"`
}

type jsonRouterKey struct {
	ASN             string `json:"asn"`
	SKI             string `json:"SKI"`
	RouterPublicKey string `json:"routerPublicKey"`
	TA              string `json:"ta"`
}

type jsonASPA struct {
	Customer  string   `json:"customer"`
	AFI       string   `json:"afi"`
	Providers []string `json:"providers"`
	TA        string   `json:"ta"`
}

func formatJSON(in RenderInput) (string, []byte) {
	var doc jsonDoc
	doc.Metadata.Generated = in.Generated.Unix()
	doc.Metadata.GeneratedTime = in.Generated.UTC().Format(time.RFC3339)

	for _, p := range in.VRPs {
		doc.ROAs = append(doc.ROAs, jsonROA{
			ASN:       asName(p.VRP.ASN),
			Prefix:    p.VRP.Prefix.String(),
			MaxLength: p.VRP.MaxLength,
			TA:        p.Provenance.TAL,
		})
	}
	for _, p := range in.RouterKeys {
		doc.RouterKeys = append(doc.RouterKeys, jsonRouterKey{
			ASN:             asName(p.RouterKey.ASN),
			SKI:             hex.EncodeToString(p.RouterKey.SKI[:]),
			RouterPublicKey: base64.RawURLEncoding.EncodeToString(p.RouterKey.SPKI),
			TA:              p.Provenance.TAL,
		})
	}
	for _, p := range in.ASPAs {
		providers := make([]string, len(p.ASPA.Providers))
		for i, asn := range p.ASPA.Providers {
			providers[i] = asName(asn)
		}
		doc.ASPAs = append(doc.ASPAs, jsonASPA{
			Customer:  asName(p.ASPA.Customer),
			AFI:       p.ASPA.Family.String(),
			Providers: providers,
			TA:        p.Provenance.TAL,
		})
	}

	body, _ := json.Marshal(doc)
	return "application/json", body
}

func asName(asn uint32) string { return "AS" + strconv.FormatUint(uint64(asn), 10) }

func formatCSV(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"ASN", "IP Prefix", "Max Length", "Trust Anchor"})
	for _, p := range in.VRPs {
		w.Write([]string{asName(p.VRP.ASN), p.VRP.Prefix.String(), strconv.Itoa(int(p.VRP.MaxLength)), p.Provenance.TAL})
	}
	w.Flush()
	return "text/csv", buf.Bytes()
}

// formatCSVExt adds the object URI and the chain's not-after time, for
// operators who want provenance without reaching for JSON.
func formatCSVExt(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"ASN", "IP Prefix", "Max Length", "Trust Anchor", "URI", "Not After"})
	for _, p := range in.VRPs {
		notAfter := ""
		if !p.Provenance.ObjectNotAfter.IsZero() {
			notAfter = p.Provenance.ObjectNotAfter.UTC().Format(time.RFC3339)
		}
		w.Write([]string{asName(p.VRP.ASN), p.VRP.Prefix.String(), strconv.Itoa(int(p.VRP.MaxLength)), p.Provenance.TAL, p.Provenance.URI, notAfter})
	}
	w.Flush()
	return "text/csv", buf.Bytes()
}

// formatCSVCompat drops the header and the "AS" prefix, matching the
// plain-numeric convention some route-server config generators expect.
func formatCSVCompat(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, p := range in.VRPs {
		w.Write([]string{strconv.FormatUint(uint64(p.VRP.ASN), 10), p.VRP.Prefix.String(), strconv.Itoa(int(p.VRP.MaxLength))})
	}
	w.Flush()
	return "text/csv", buf.Bytes()
}

func formatOpenBGPD(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "roa-set {")
	for _, p := range in.VRPs {
		if p.VRP.MaxLength > uint8(p.VRP.Prefix.Bits()) {
			fmt.Fprintf(&buf, "\t%s maxlen %d source-as %d\n", p.VRP.Prefix, p.VRP.MaxLength, p.VRP.ASN)
		} else {
			fmt.Fprintf(&buf, "\t%s source-as %d\n", p.VRP.Prefix, p.VRP.ASN)
		}
	}
	fmt.Fprintln(&buf, "}")
	return "text/plain", buf.Bytes()
}

func formatBird1(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	for _, p := range in.VRPs {
		fmt.Fprintf(&buf, "roa %s max %d as %d;\n", p.VRP.Prefix, p.VRP.MaxLength, p.VRP.ASN)
	}
	return "text/plain", buf.Bytes()
}

func formatBird2(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "define ROA_TABLE_NAME = \"rpkid\";")
	fmt.Fprintln(&buf, "roa4 table rpkid_v4;")
	fmt.Fprintln(&buf, "roa6 table rpkid_v6;")
	for _, p := range in.VRPs {
		table := "rpkid_v4"
		if rpki.FamilyOf(p.VRP.Prefix) == rpki.FamilyIPv6 {
			table = "rpkid_v6"
		}
		fmt.Fprintf(&buf, "route %s max %d as %d table %s;\n", p.VRP.Prefix, p.VRP.MaxLength, p.VRP.ASN, table)
	}
	return "text/plain", buf.Bytes()
}

func formatRPSL(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	for _, p := range in.VRPs {
		family := "route"
		if rpki.FamilyOf(p.VRP.Prefix) == rpki.FamilyIPv6 {
			family = "route6"
		}
		fmt.Fprintf(&buf, "%s:          %s\n", family, p.VRP.Prefix)
		fmt.Fprintf(&buf, "origin:         %s\n", asName(p.VRP.ASN))
		fmt.Fprintf(&buf, "descr:          RPKI ROA for %s, max length %d\n", p.Provenance.TAL, p.VRP.MaxLength)
		fmt.Fprintf(&buf, "mnt-by:         NA\n")
		fmt.Fprintf(&buf, "source:         ROA-%s\n\n", p.Provenance.TAL)
	}
	return "text/plain", buf.Bytes()
}

// formatSLURM dumps the current set as a SLURM document's locally-added
// assertions — a convenient way to seed a new exceptions file from
// whatever is currently published.
func formatSLURM(in RenderInput) (string, []byte) {
	type prefixAssertion struct {
		ASN             uint32 `json:"asn"`
		Prefix          string `json:"prefix"`
		MaxPrefixLength uint8  `json:"maxPrefixLength"`
	}
	doc := struct {
		SlurmVersion            int `json:"slurmVersion"`
		ValidationOutputFilters struct {
			PrefixFilters []struct{} `json:"prefixFilters"`
			BGPsecFilters []struct{} `json:"bgpsecFilters"`
		} `json:"validationOutputFilters"`
		LocallyAddedAssertions struct {
			PrefixAssertions []prefixAssertion `json:"prefixAssertions"`
			BGPsecAssertions []struct{}         `json:"bgpsecAssertions"`
		} `json:"locallyAddedAssertions"`
	}{SlurmVersion: 1}

	for _, p := range in.VRPs {
		doc.LocallyAddedAssertions.PrefixAssertions = append(doc.LocallyAddedAssertions.PrefixAssertions, prefixAssertion{
			ASN: p.VRP.ASN, Prefix: p.VRP.Prefix.String(), MaxPrefixLength: p.VRP.MaxLength,
		})
	}
	body, _ := json.MarshalIndent(doc, "", "  ")
	return "application/json", body
}

func formatSummary(in RenderInput) (string, []byte) {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "TAL\tVerified\tUnsafe\tFiltered\tDuplicate\tContributed")

	tals := make([]string, 0, len(in.Stats))
	for tal := range in.Stats {
		tals = append(tals, tal)
	}
	sort.Strings(tals)
	for _, tal := range tals {
		st := in.Stats[tal]
		fmt.Fprintf(&buf, "%s\t%d\t%d\t%d\t%d\t%d\n", tal, st.Verified, st.Unsafe, st.LocallyFiltered, st.Duplicate, st.Contributed)
	}
	return "text/plain", buf.Bytes()
}
