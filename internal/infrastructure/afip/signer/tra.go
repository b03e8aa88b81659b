// Ticket de requerimiento de acceso (TRA) para WSAA.

package signer

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/ucarion/c14n"
)

const (
	traTimeLayout = "2006-01-02T15:04:05-07:00"
	traVersion    = "1.0"
	xmlHeader     = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
)

type loginTicketRequest struct {
	XMLName xml.Name  `xml:"loginTicketRequest"`
	Version string    `xml:"version,attr"`
	Header  traHeader `xml:"header"`
	Service string    `xml:"service"`
}

type traHeader struct {
	UniqueID       uint32 `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

// TRAWindow desfase de generationTime y validez solicitada.
type TRAWindow struct {
	Skew time.Duration // generationTime = now - Skew
	TTL  time.Duration // expirationTime = now + TTL
}

// DefaultTRAWindow 1 minuto de tolerancia de reloj y 10 minutos de validez.
func DefaultTRAWindow() TRAWindow {
	return TRAWindow{Skew: time.Minute, TTL: 10 * time.Minute}
}

// BuildTRA arma el loginTicketRequest canonicalizado (C14N) listo para firmar.
// uniqueID = 0 genera un nonce aleatorio.
func BuildTRA(service string, now time.Time, w TRAWindow, uniqueID uint32) ([]byte, error) {
	if service == "" {
		return nil, fmt.Errorf("tra: servicio vacío")
	}
	if uniqueID == 0 {
		var err error
		if uniqueID, err = randomUint32(); err != nil {
			return nil, err
		}
	}
	req := loginTicketRequest{
		Version: traVersion,
		Header: traHeader{
			UniqueID:       uniqueID,
			GenerationTime: now.Add(-w.Skew).Format(traTimeLayout),
			ExpirationTime: now.Add(w.TTL).Format(traTimeLayout),
		},
		Service: service,
	}
	raw, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("tra: serializar: %w", err)
	}
	canonical, err := canonicalizeXML(raw)
	if err != nil {
		return nil, fmt.Errorf("tra: canonicalizar: %w", err)
	}
	return append([]byte(xmlHeader), canonical...), nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("tra: generar uniqueId: %w", err)
	}
	n := binary.BigEndian.Uint32(b[:])
	if n == 0 {
		n = 1
	}
	return n, nil
}
