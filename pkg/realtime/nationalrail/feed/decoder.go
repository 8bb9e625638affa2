package feed

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
)

var namespaceVersion = regexp.MustCompile(`/v(\d+)$`)

type Message struct {
	Events []Event

	// Known elements in a schema version without an adapter
	Unsupported int
	// Known elements that failed to decode
	Invalid int
}

func schemaVersion(namespace string) int {
	matches := namespaceVersion.FindStringSubmatch(namespace)
	if matches == nil {
		return 1
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 1
	}
	return version
}

func attribute(element xml.StartElement, name string) string {
	for _, attr := range element.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

// Decode streams a push port message, mapping every alarm, disruption reason & tracking
// correction onto events. Other elements are walked but ignored.
func Decode(reader io.Reader) (*Message, error) {
	message := &Message{}

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	// RID of each open element, inherited from the nearest train
	var rids []string
	currentRID := func() string {
		if len(rids) == 0 {
			return ""
		}
		return rids[len(rids)-1]
	}

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return message, err
		}

		switch element := tok.(type) {
		case xml.StartElement:
			versions, known := adapters[element.Name.Local]
			if !known {
				rid := attribute(element, "rid")
				if rid == "" {
					rid = currentRID()
				}
				rids = append(rids, rid)
				continue
			}

			version := schemaVersion(element.Name.Space)
			decode, supported := versions[version]
			if !supported {
				log.Debug().Str("element", element.Name.Local).Int("version", version).Msg("Unsupported feed record version")
				message.Unsupported++
				if err := d.Skip(); err != nil {
					return message, err
				}
				continue
			}

			event, err := decode(d, &element, currentRID())
			if err != nil {
				var syntaxError *xml.SyntaxError
				if errors.As(err, &syntaxError) {
					return message, err
				}

				log.Debug().Err(err).Str("element", element.Name.Local).Msg("Invalid feed record")
				message.Invalid++
				continue
			}

			message.Events = append(message.Events, event)
		case xml.EndElement:
			if len(rids) > 0 {
				rids = rids[:len(rids)-1]
			}
		}
	}

	return message, nil
}

var gzipSignature = []byte{0x1f, 0x8b}

// DecodeBody decodes a message body which may be gzip compressed
func DecodeBody(body []byte) (*Message, error) {
	if !bytes.HasPrefix(body, gzipSignature) {
		return Decode(bytes.NewReader(body))
	}

	gzipDecoder, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gzipDecoder.Close()

	return Decode(bufio.NewReader(gzipDecoder))
}
