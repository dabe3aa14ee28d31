package mime

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	gomime "mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"

	"github.com/shineum/mail-composer/internal/email"
)

var decoder = &gomime.WordDecoder{}

// Parse parses a raw RFC 5322 message into an email.Message.
// It handles plain text messages, nested multipart bodies, attachments and
// inline parts. Headers that Build produces itself are mapped back onto
// the message fields; every other header is kept in Headers.
// Unrecognized MIME parts are logged as warnings.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := email.NewMessage()
	if from := parseAddressList(msg.Header.Get("From")); len(from) > 0 {
		result.SetFrom(from[0])
	}
	result.AddTo(parseAddressList(msg.Header.Get("To"))...)
	result.AddCc(parseAddressList(msg.Header.Get("Cc"))...)
	result.AddBcc(parseAddressList(msg.Header.Get("Bcc"))...)
	result.AddReplyTo(parseAddressList(msg.Header.Get("Reply-To"))...)
	result.Subject = decodeHeader(msg.Header.Get("Subject"))
	result.MessageID = strings.Trim(msg.Header.Get("Message-Id"), "<> ")
	result.Priority = parsePriority(msg.Header)

	names := make([]string, 0, len(msg.Header))
	for name := range msg.Header {
		if !reserved[textproto.CanonicalMIMEHeaderKey(name)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range msg.Header[name] {
			result.AddHeader(name, decodeHeader(v))
		}
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := gomime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.TextBody = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/plain":
		result.TextBody = string(body)
	case "text/html":
		result.HtmlBody = string(body)
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.TextBody = string(body)
	}
	return result, nil
}

// parseMultipart processes a multipart body, extracting text/plain and
// text/html parts, attachments and inline parts.
func parseMultipart(body io.Reader, boundary string, result *email.Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := gomime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		// multipart.Part decodes quoted-printable itself and drops the header.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition, _, _ := gomime.ParseMediaType(part.Header.Get("Content-Disposition"))
		contentID := strings.Trim(part.Header.Get("Content-Id"), "<> ")

		switch {
		case disposition == "attachment":
			result.Attach(email.Attachment{
				Filename:    extractFilename(part, params),
				ContentType: mediaType,
				Content:     content,
			})
		case disposition == "inline" && contentID != "", contentID != "" && !isText(mediaType):
			result.Attach(email.Attachment{
				Filename:    extractFilename(part, params),
				ContentType: mediaType,
				Content:     content,
				ContentID:   contentID,
				Inline:      true,
			})
		case mediaType == "text/plain":
			if result.TextBody == "" {
				result.TextBody = string(content)
			}
		case mediaType == "text/html":
			if result.HtmlBody == "" {
				result.HtmlBody = string(content)
			}
		default:
			// Check if it has a filename even without attachment disposition
			if part.FileName() != "" || params["name"] != "" {
				result.Attach(email.Attachment{
					Filename:    extractFilename(part, params),
					ContentType: mediaType,
					Content:     content,
				})
			} else {
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
					"disposition", disposition,
				)
			}
		}
	}

	return nil
}

func isText(mediaType string) bool {
	return mediaType == "text/plain" || mediaType == "text/html"
}

// decodeBody reads r, undoing the given Content-Transfer-Encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "quoted-printable" {
		r = quotedprintable.NewReader(r)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if encoding != "base64" {
		return raw, nil
	}
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Try with RawStdEncoding for unpadded base64
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	// Providers such as Graph require a name on every attachment.
	if mediaType, _, err := gomime.ParseMediaType(part.Header.Get("Content-Type")); err == nil {
		parts := strings.SplitN(mediaType, "/", 2)
		if len(parts) == 2 {
			return "attachment." + parts[1]
		}
	}
	return "attachment"
}

func parsePriority(h mail.Header) email.Priority {
	switch strings.ToLower(strings.TrimSpace(h.Get("Importance"))) {
	case "high":
		return email.PriorityHigh
	case "low":
		return email.PriorityLow
	}
	x := strings.TrimSpace(h.Get("X-Priority"))
	switch {
	case strings.HasPrefix(x, "1"), strings.HasPrefix(x, "2"):
		return email.PriorityHigh
	case strings.HasPrefix(x, "4"), strings.HasPrefix(x, "5"):
		return email.PriorityLow
	}
	return email.PriorityNone
}

func decodeHeader(v string) string {
	decoded, err := decoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// parseAddressList splits an address list into individual addresses.
func parseAddressList(raw string) []email.Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addresses, err := (&mail.AddressParser{WordDecoder: decoder}).ParseList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]email.Address, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, email.Address{Address: trimmed})
			}
		}
		return result
	}

	result := make([]email.Address, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, email.Address{Address: addr.Address, Name: addr.Name})
	}
	return result
}
