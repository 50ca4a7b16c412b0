package manifest

import (
	"encoding/xml"
	"time"
)

// UTC timestamp with the manifest's fixed second-resolution wire format
type Timestamp struct {
	time.Time
}

func Now() Timestamp {
	return At(time.Now())
}

func At(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	return enc.EncodeElement(t.UTC().Format(TimeFormat), start)
}

func (t *Timestamp) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	serialized := ""
	if err := dec.DecodeElement(&serialized, &start); err != nil {
		return err
	}

	parsed, err := time.ParseInLocation(TimeFormat, serialized, time.UTC)
	if err != nil {
		return err
	}

	t.Time = parsed
	return nil
}
