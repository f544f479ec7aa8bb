package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"os/exec"
	"time"

	"sendlater/internal/domain"
	"sendlater/internal/render"
)

// Sendmail pipes an RFC 5322 message into a local sendmail-compatible
// binary ("sendmail -t -i").
type Sendmail struct {
	path   string
	from   string
	render *render.Renderer
	now    func() time.Time
}

func NewSendmail(path, from string, r *render.Renderer) *Sendmail {
	if path == "" {
		path = "/usr/sbin/sendmail"
	}
	if r == nil {
		r = render.New()
	}
	return &Sendmail{path: path, from: from, render: r, now: time.Now}
}

func (h *Sendmail) Notify(ctx context.Context, t domain.Task) error {
	msg, err := h.buildMessage(t)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, h.path, "-t", "-i")
	cmd.Stdin = bytes.NewReader(msg)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sendmail error: %v; out=%s", err, string(out))
	}
	return nil
}

func (h *Sendmail) buildMessage(t domain.Task) ([]byte, error) {
	if err := checkHeader(h.from, t.Recipient, t.Subject); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if h.from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", h.from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", t.Recipient)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", t.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", h.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@sendlater>\r\n", t.ID)
	buf.WriteString("MIME-Version: 1.0\r\n")

	mw := multipart.NewWriter(&buf)
	if t.Attachment == nil {
		fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
		if err := h.writeAlternatives(mw, t.Body); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	var altBuf bytes.Buffer
	alt := multipart.NewWriter(&altBuf)
	if err := h.writeAlternatives(alt, t.Body); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + alt.Boundary()},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(altBuf.Bytes()); err != nil {
		return nil, err
	}

	a := t.Attachment
	ctype := "application/octet-stream"
	if mt, _, err := mime.ParseMediaType(a.ContentType); err == nil {
		ctype = mt
	}
	ap, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(ctype, map[string]string{"name": a.Filename})},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(ap, a.Content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Sendmail) writeAlternatives(w *multipart.Writer, body string) error {
	parts := []struct {
		ctype string
		text  string
	}{
		{"text/plain; charset=utf-8", h.render.PlainText(body)},
		{"text/html; charset=utf-8", body},
	}
	for _, p := range parts {
		pw, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.text)); err != nil {
			return err
		}
		if err := qp.Close(); err != nil {
			return err
		}
	}
	return nil
}

// writeBase64 writes b base64-encoded in 76 character lines.
func writeBase64(w io.Writer, b []byte) error {
	enc := base64.StdEncoding.EncodeToString(b)
	for len(enc) > 76 {
		if _, err := io.WriteString(w, enc[:76]+"\r\n"); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := io.WriteString(w, enc+"\r\n")
	return err
}
