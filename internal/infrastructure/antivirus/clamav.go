package antivirus

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultScanTimeout = 2 * time.Minute

	// clamd rejects INSTREAM chunks above its StreamMaxLength; 2 MiB chunks
	// stay well under the default.
	chunkSize = 2 << 20
)

// ClamAV scans content through a clamd daemon using the INSTREAM protocol:
// length-prefixed chunks over a TCP session, terminated by a zero-length
// chunk, answered with a single verdict line.
type ClamAV struct {
	address     string
	dialTimeout time.Duration
	scanTimeout time.Duration
}

func NewClamAV(address string) *ClamAV {
	return &ClamAV{
		address:     address,
		dialTimeout: defaultDialTimeout,
		scanTimeout: defaultScanTimeout,
	}
}

func (c *ClamAV) Scan(ctx context.Context, data []byte, label string) (domain.ScanVerdict, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "clamd dial", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.scanTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return domain.ScanVerdict{}, fmt.Errorf("clamd set deadline: %w", err)
	}

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "clamd instream", err)
	}

	var prefix [4]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		binary.BigEndian.PutUint32(prefix[:], uint32(end-off))
		if _, err := conn.Write(prefix[:]); err != nil {
			return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "clamd chunk", err)
		}
		if _, err := conn.Write(data[off:end]); err != nil {
			return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "clamd chunk", err)
		}
	}

	binary.BigEndian.PutUint32(prefix[:], 0)
	if _, err := conn.Write(prefix[:]); err != nil {
		return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "clamd terminator", err)
	}

	reply := make([]byte, 512)
	n, err := conn.Read(reply)
	if err != nil {
		return domain.ScanVerdict{}, domain.WrapError(domain.ErrTemporary, "clamd reply", err)
	}

	return parseVerdict(string(reply[:n]), label)
}

// parseVerdict interprets a clamd reply line such as "stream: OK" or
// "stream: Eicar-Signature FOUND".
func parseVerdict(reply, label string) (domain.ScanVerdict, error) {
	verdict := strings.TrimRight(reply, "\x00\n")
	switch {
	case strings.HasSuffix(verdict, "OK"):
		return domain.ScanVerdict{Clean: true}, nil
	case strings.HasSuffix(verdict, "FOUND"):
		signature := strings.TrimSuffix(verdict, " FOUND")
		if idx := strings.Index(signature, ": "); idx >= 0 {
			signature = signature[idx+2:]
		}
		return domain.ScanVerdict{
			Clean:   false,
			Message: fmt.Sprintf("malware detected in %s: %s", label, signature),
		}, nil
	default:
		return domain.ScanVerdict{}, fmt.Errorf("unexpected clamd reply: %q", verdict)
	}
}
