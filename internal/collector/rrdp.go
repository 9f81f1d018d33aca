package collector

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bgpfix/rpkid/internal/rpki"
	"github.com/bgpfix/rpkid/internal/store"
)

// newRRDPClient builds an http.Client that requests gzip explicitly and
// decodes it with klauspost/compress, which is faster than net/http's
// built-in (and only automatic) transparent gzip handling.
func newRRDPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &gzipTransport{
			base: &http.Transport{DisableCompression: true},
		},
	}
}

type gzipTransport struct {
	base http.RoundTripper
}

func (t *gzipTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, zerr := gzip.NewReader(resp.Body)
		if zerr != nil {
			resp.Body.Close()
			return nil, zerr
		}
		resp.Body = &gzipBody{zr: zr, underlying: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}
	return resp, nil
}

type gzipBody struct {
	zr         *gzip.Reader
	underlying io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) { return b.zr.Read(p) }
func (b *gzipBody) Close() error {
	b.zr.Close()
	return b.underlying.Close()
}

// notification is the RRDP notification.xml document, RFC 8182.
type notification struct {
	XMLName   xml.Name         `xml:"notification"`
	Version   int              `xml:"version,attr"`
	SessionID string           `xml:"session_id,attr"`
	Serial    uint64           `xml:"serial,attr"`
	Snapshot  notificationLink `xml:"snapshot"`
	Deltas    []deltaLink      `xml:"delta"`
}

type notificationLink struct {
	URI  string `xml:"uri,attr"`
	Hash string `xml:"hash,attr"`
}

type deltaLink struct {
	Serial uint64 `xml:"serial,attr"`
	URI    string `xml:"uri,attr"`
	Hash   string `xml:"hash,attr"`
}

type rrdpSnapshot struct {
	XMLName   xml.Name      `xml:"snapshot"`
	SessionID string        `xml:"session_id,attr"`
	Serial    uint64        `xml:"serial,attr"`
	Publishes []rrdpPublish `xml:"publish"`
}

type rrdpDelta struct {
	XMLName   xml.Name      `xml:"delta"`
	SessionID string        `xml:"session_id,attr"`
	Serial    uint64        `xml:"serial,attr"`
	Publishes []rrdpPublish `xml:"publish"`
	Withdraws []rrdpWithdraw `xml:"withdraw"`
}

type rrdpPublish struct {
	URI     string `xml:"uri,attr"`
	Hash    string `xml:"hash,attr"` // optional: present when replacing an existing object
	Content string `xml:",chardata"`
}

type rrdpWithdraw struct {
	URI  string `xml:"uri,attr"`
	Hash string `xml:"hash,attr"`
}

// fetchRRDP drives one RRDP cycle for pp: compare (session, serial) against
// st, then either no-op, apply deltas, or fall back to a full snapshot.
func (c *Collector) fetchRRDP(ctx context.Context, pp rpki.PPID, st *ppState) (changed bool, err error) {
	if err := checkDubiousHost(pp.Authority, c.cfg.AllowDubiousHosts); err != nil {
		return false, err
	}

	notif, err := c.getNotification(ctx, pp.Authority)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	curSession, curSerial := st.session, st.serial
	st.mu.Unlock()

	if notif.SessionID == curSession && notif.Serial == curSerial {
		c.markRRDPSuccess(st, notif.SessionID, notif.Serial)
		return false, nil
	}

	h, err := c.archive.Handle(pp)
	if err != nil {
		return false, err
	}

	useDeltas := notif.SessionID == curSession &&
		notif.Serial > curSerial &&
		len(notif.Deltas) > 0 &&
		len(notif.Deltas) <= c.cfg.RRDPMaxDeltaCount

	if useDeltas {
		applied, err := c.applyDeltas(ctx, h, notif, curSerial)
		if err == nil {
			c.markRRDPSuccess(st, notif.SessionID, notif.Serial)
			return applied, nil
		}
		c.log.Warn().Err(err).Str("pp", pp.Authority).Msg("delta application failed, falling back to snapshot")
	}

	if err := c.applySnapshot(ctx, h, notif); err != nil {
		return false, err
	}
	c.markRRDPSuccess(st, notif.SessionID, notif.Serial)
	return true, nil
}

func (c *Collector) markRRDPSuccess(st *ppState, session string, serial uint64) {
	st.mu.Lock()
	st.session = session
	st.serial = serial
	st.lastRRDPSuccess = time.Now()
	st.everRRDPSuccess = true
	st.mu.Unlock()
}

func (c *Collector) getNotification(ctx context.Context, uri string) (*notification, error) {
	body, err := c.getLimited(ctx, uri)
	if err != nil {
		return nil, err
	}
	var n notification
	if err := xml.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("collector: notification.xml: %w", err)
	}
	sort.Slice(n.Deltas, func(i, j int) bool { return n.Deltas[i].Serial < n.Deltas[j].Serial })
	return &n, nil
}

// applyDeltas fetches every delta strictly after curSerial up to notif's
// serial, in order, verifying serial monotonicity and the document hash,
// and applies them as one archive transaction.
func (c *Collector) applyDeltas(ctx context.Context, h *store.Handle, notif *notification, curSerial uint64) (bool, error) {
	var chain []deltaLink
	for _, d := range notif.Deltas {
		if d.Serial > curSerial && d.Serial <= notif.Serial {
			chain = append(chain, d)
		}
	}
	if uint64(len(chain)) != notif.Serial-curSerial {
		return false, ErrSerialMismatch
	}

	tx, err := h.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	changed := false
	for _, link := range chain {
		body, err := c.getLimited(ctx, link.URI)
		if err != nil {
			return false, err
		}
		if hex.EncodeToString(sha256Sum(body)) != link.Hash {
			return false, fmt.Errorf("collector: delta %s: hash mismatch", link.URI)
		}
		var d rrdpDelta
		if err := xml.Unmarshal(body, &d); err != nil {
			return false, fmt.Errorf("collector: delta %s: %w", link.URI, err)
		}
		if d.SessionID != notif.SessionID {
			return false, ErrSessionMismatch
		}
		if len(d.Publishes)+len(d.Withdraws) > c.cfg.RRDPMaxDeltaListLen {
			return false, ErrDeltaListTooLong
		}
		for _, p := range d.Publishes {
			if p.Hash != "" {
				if existing, ok, _ := tx.Get(p.URI); ok && hex.EncodeToString(sha256Sum(existing)) != p.Hash {
					return false, fmt.Errorf("collector: publish %s: replaced hash mismatch", p.URI)
				}
			}
			data, err := decodePublish(p)
			if err != nil {
				return false, err
			}
			if err := enforceSize(int64(len(data)), c.cfg.MaxObjectSize); err != nil {
				return false, err
			}
			tx.Put(p.URI, data)
			changed = true
		}
		for _, w := range d.Withdraws {
			if existing, ok, _ := tx.Get(w.URI); ok && hex.EncodeToString(sha256Sum(existing)) != w.Hash {
				return false, fmt.Errorf("collector: withdraw %s: hash mismatch", w.URI)
			}
			tx.Delete(w.URI)
			changed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return changed, nil
}

// applySnapshot replaces the whole archive contents for h with the
// snapshot's publish set.
func (c *Collector) applySnapshot(ctx context.Context, h *store.Handle, notif *notification) error {
	body, err := c.getLimited(ctx, notif.Snapshot.URI)
	if err != nil {
		return err
	}
	if hex.EncodeToString(sha256Sum(body)) != notif.Snapshot.Hash {
		return fmt.Errorf("collector: snapshot %s: hash mismatch", notif.Snapshot.URI)
	}
	var snap rrdpSnapshot
	if err := xml.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("collector: snapshot %s: %w", notif.Snapshot.URI, err)
	}
	if snap.SessionID != notif.SessionID || snap.Serial != notif.Serial {
		return ErrSessionMismatch
	}

	existing, err := h.ListURIs()
	if err != nil {
		return err
	}

	tx, err := h.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	keep := make(map[string]struct{}, len(snap.Publishes))
	for _, p := range snap.Publishes {
		data, err := decodePublish(p)
		if err != nil {
			return err
		}
		if err := enforceSize(int64(len(data)), c.cfg.MaxObjectSize); err != nil {
			return err
		}
		tx.Put(p.URI, data)
		keep[p.URI] = struct{}{}
	}
	for _, uri := range existing {
		if _, ok := keep[uri]; !ok {
			tx.Delete(uri)
		}
	}
	return tx.Commit()
}

func decodePublish(p rrdpPublish) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(trimXMLWhitespace(p.Content))
	if err != nil {
		return nil, fmt.Errorf("collector: publish %s: bad base64: %w", p.URI, err)
	}
	return data, nil
}

func trimXMLWhitespace(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// getLimited performs a GET whose body is bounded by MaxObjectSize. The
// notification file is fetched through it too, under the same cap.
func (c *Collector) getLimited(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector: GET %s: status %s", uri, resp.Status)
	}

	var r io.Reader = resp.Body
	limit := c.cfg.MaxObjectSize
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		if err := enforceSize(int64(len(body)), limit); err != nil {
			return nil, err
		}
	}
	return body, nil
}
