package script

import (
	"encoding/xml"
	"fmt"
)

// TwiML-equivalent markup handed verbatim to the telephony provider.
// Verb order inside Response is significant: the provider executes top to
// bottom.

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []interface{}
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Gather collects DTMF digits. Nested verbs play while waiting for input.
type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Action    string   `xml:"action,attr,omitempty"`
	Verbs     []interface{}
}

// Dial bridges the call to another number, used for agent transfer.
type Dial struct {
	XMLName xml.Name `xml:"Dial"`
	Timeout int      `xml:"timeout,attr"`
	Number  string   `xml:",chardata"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (r *Response) Append(verbs ...interface{}) {
	r.Verbs = append(r.Verbs, verbs...)
}

// Render serializes the response to an XML document.
func (r *Response) Render() (string, error) {
	out, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering markup: %w", err)
	}
	return xml.Header + string(out), nil
}
