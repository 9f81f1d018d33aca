package validator

import (
	"context"
	"crypto/x509"
	"math/big"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/bgpfix/rpkid/internal/certdecode"
	"github.com/bgpfix/rpkid/internal/objectstore"
	"github.com/bgpfix/rpkid/internal/rpki"
)

// childCA is a CA certificate discovered while walking one CA's manifest,
// queued for recursion once the whole current CA has been accepted.
type childCA struct {
	info      *certdecode.CertInfo
	resources rpki.ResourceSet // resolved: parent's set if info.Resources.Inherit
}

// processNode validates one CA (or, at depth 0, a TAL root) end to end:
// locate its manifest and CRL, validate every listed object, and on
// success promote the object-store snapshot and recurse into child CAs.
// Rejection at any point discards everything this CA would have
// contributed and stops the walk here (spec 4.D.4).
func (v *Validator) processNode(ctx context.Context, tal *rpki.TAL, parentCert *x509.Certificate, resources rpki.ResourceSet, info *certdecode.CertInfo, depth int, acc *runAcc, wg *sync.WaitGroup) {
	reject := func(kind IssueKind, pp rpki.PPID, err error) {
		acc.addIssue(Issue{Kind: kind, TAL: tal.Label, URI: info.SIARepo, Err: err})
		if pp.Authority != "" {
			v.objStore.Fail(pp)
		}
		acc.addRejected(resources)
	}

	if depth > v.cfg.MaxCADepth {
		acc.addIssue(Issue{Kind: IssueMaxDepth, TAL: tal.Label, URI: info.SIARepo})
		return
	}

	if err := info.Cert.CheckSignatureFrom(parentCert); err != nil {
		reject(IssueSignature, rpki.PPID{}, err)
		return
	}

	pp, err := derivePP(info.SIANotify, info.SIARepo)
	if err != nil {
		reject(IssueManifestCRL, rpki.PPID{}, err)
		return
	}

	if v.fetcher != nil {
		if rep := v.fetcher.Fetch(ctx, pp); rep.Err != nil {
			acc.addIssue(Issue{Kind: IssueFetch, TAL: tal.Label, URI: pp.Authority, Err: rep.Err})
			// not fatal here: the object store may still have a usable
			// last-known-good snapshot, or the archive a prior copy.
		}
	}

	h, err := v.archive.Handle(pp)
	if err != nil {
		reject(IssueManifestCRL, pp, err)
		return
	}

	manifest, signedMft, ok := v.loadManifest(h, info)
	if !ok {
		reject(IssueManifestCRL, pp, errNoManifest)
		return
	}

	if isStale(manifest.NextUpdate) {
		switch v.cfg.StalePolicy {
		case rpki.PolicyReject:
			reject(IssueStale, pp, errStaleManifest)
			return
		case rpki.PolicyWarn:
			acc.addIssue(Issue{Kind: IssueStale, TAL: tal.Label, URI: info.SIAManifest, Err: errStaleManifest})
		}
	}

	crl, crlURI, ok := v.loadCRL(h, pp, info, signedMft)
	if !ok {
		reject(IssueManifestCRL, pp, errNoCRL)
		return
	}
	if err := info.Cert.CheckSignature(crl.SignatureAlgorithm, crl.RawTBSRevocationList, crl.Signature); err != nil {
		reject(IssueSignature, pp, err)
		return
	}
	if isRevoked(crl, signedMft.EECert.SerialNumber) {
		reject(IssueSignature, pp, errRevokedEE)
		return
	}
	if isStale(crl.NextUpdate) {
		switch v.cfg.StalePolicy {
		case rpki.PolicyReject:
			reject(IssueStale, pp, errStaleCRL)
			return
		case rpki.PolicyWarn:
			acc.addIssue(Issue{Kind: IssueStale, TAL: tal.Label, URI: crlURI, Err: errStaleCRL})
		}
	}

	crlBytes, _ := v.readObjectUnverified(h, pp, crlURI)
	snapObjects := map[string][]byte{crlURI: crlBytes}
	manifestDir := path.Dir(info.SIAManifest)

	names := make([]string, 0, len(manifest.EntryHash))
	for name := range manifest.EntryHash {
		if name == path.Base(crlURI) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var payloads []rpki.Payload
	var children []childCA

	for _, name := range names {
		uri := manifestDir + "/" + name
		data, ok := v.readObject(h, pp, uri, manifest.EntryHash[name])
		if !ok {
			reject(IssueManifestCRL, pp, errObjectMissing)
			return
		}
		snapObjects[uri] = data

		outcome := v.dispatchObject(tal, uri, name, data, info, resources)
		switch {
		case outcome.reject != nil:
			reject(outcome.kind, pp, outcome.reject)
			return
		case outcome.unknownSkipped:
			if v.cfg.UnknownObjectsPolicy == rpki.PolicyReject {
				reject(IssueUnknownObject, pp, errUnknownObject)
				return
			}
		default:
			payloads = append(payloads, outcome.payloads...)
			children = append(children, outcome.children...)
		}
	}

	v.objStore.Update(pp, &objectstore.Snapshot{Manifest: manifest, Objects: snapObjects})
	acc.addPayloads(tal.Label, payloads)

	for _, ch := range children {
		wg.Add(1)
		go func(ch childCA) {
			defer wg.Done()
			v.sem <- struct{}{}
			defer func() { <-v.sem }()
			v.processNode(ctx, tal, info.Cert, ch.resources, ch.info, depth+1, acc, wg)
		}(ch)
	}
}

func (v *Validator) loadManifest(h archiveGetter, info *certdecode.CertInfo) (*rpki.Manifest, *certdecode.SignedObject, bool) {
	raw, ok, err := h.Get(info.SIAManifest)
	if err != nil || !ok {
		return nil, nil, false
	}
	signed, err := v.decoder.ParseSignedObject(raw, v.cfg.DecodeMode)
	if err != nil {
		return nil, nil, false
	}
	if err := signed.EECert.CheckSignatureFrom(info.Cert); err != nil {
		return nil, nil, false
	}
	manifest, err := v.decoder.ParseManifestContent(signed.EEContent)
	if err != nil {
		return nil, nil, false
	}
	manifest.URI = info.SIAManifest
	manifest.EESubjectKeyID = signed.EECert.SubjectKeyId
	return manifest, signed, true
}

func (v *Validator) loadCRL(h archiveGetter, pp rpki.PPID, info *certdecode.CertInfo, signedMft *certdecode.SignedObject) (*x509.RevocationList, string, bool) {
	crlURI := signedMft.CRLURI
	if crlURI == "" {
		crlURI = info.CRLURI
	}
	if crlURI == "" {
		return nil, "", false
	}
	raw, ok := v.readObjectUnverified(h, pp, crlURI)
	if !ok {
		return nil, "", false
	}
	crl, err := v.decoder.ParseCRL(raw, v.cfg.DecodeMode)
	if err != nil {
		return nil, "", false
	}
	return crl, crlURI, true
}

// readObject fetches uri from the live archive, falling back to the
// object store's last manifest-consistent snapshot if the live archive is
// momentarily missing it (spec 4.C), then checks the SHA-256 the current
// manifest lists for it.
func (v *Validator) readObject(h archiveGetter, pp rpki.PPID, uri string, want [32]byte) ([]byte, bool) {
	data, ok := v.readObjectUnverified(h, pp, uri)
	if !ok {
		return nil, false
	}
	if sha256Of(data) != want {
		return nil, false
	}
	return data, true
}

// readObjectUnverified is for the CRL, which the manifest's EntryHash does
// not separately re-verify (its integrity is the CMS signature over the
// manifest itself, plus the CRL's own signature).
func (v *Validator) readObjectUnverified(h archiveGetter, pp rpki.PPID, uri string) ([]byte, bool) {
	if data, ok, err := h.Get(uri); err == nil && ok {
		return data, true
	}
	if snap, ok := v.objStore.Snapshot(pp); ok {
		if data, ok := snap.Objects[uri]; ok {
			return data, true
		}
	}
	return nil, false
}

// archiveGetter is the read slice of *store.Handle the validator uses;
// named narrowly so ca_test.go can supply a fake without an on-disk store.
type archiveGetter interface {
	Get(uri string) ([]byte, bool, error)
}

func isStale(nextUpdate time.Time) bool { return time.Now().After(nextUpdate) }

func isRevoked(crl *x509.RevocationList, serial *big.Int) bool {
	for _, rc := range crl.RevokedCertificateEntries {
		if rc.SerialNumber.Cmp(serial) == 0 {
			return true
		}
	}
	return false
}
