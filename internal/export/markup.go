package export

import (
	"encoding/csv"
	"encoding/xml"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/tbourn/go-chat-store/internal/domain"
)

// ---- HTML ----

var htmlTmpl = template.Must(template.New("history").Funcs(template.FuncMap{
	"stamp": func(t time.Time) string { return t.UTC().Format(stamp) },
	"name":  displayName,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{if .RoomID}}Chat history: {{.RoomID}}{{else}}Chat history{{end}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.msg { margin: .4em 0; }
.time { color: #888; font-size: .85em; }
.sender { font-weight: bold; }
.edited { color: #888; font-style: italic; }
</style>
</head>
<body>
<h1>{{if .RoomID}}Chat history: {{.RoomID}}{{else}}Chat history{{end}}</h1>
<p>Exported at {{stamp .ExportedAt}} UTC, {{len .Messages}} messages</p>
{{range .Messages}}<div class="msg" id="msg-{{.ID}}"><span class="time">{{stamp .Timestamp}}</span> <span class="sender">{{name .}}</span>: <span class="content">{{.Content}}</span>{{if .IsEdited}} <span class="edited">(edited)</span>{{end}}{{if and .Type.HasAttachment .FileURL}} <a href="{{.FileURL}}">attachment</a>{{end}}</div>
{{end}}</body>
</html>
`))

func writeHTML(w io.Writer, meta Meta, msgs []domain.Message) error {
	ptrs := make([]*domain.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	return htmlTmpl.Execute(w, struct {
		RoomID     string
		ExportedAt time.Time
		Messages   []*domain.Message
	}{meta.RoomID, meta.ExportedAt, ptrs})
}

// ---- CSV ----

var csvHeader = []string{
	"id", "timestamp", "room_id", "sender_id", "sender_name",
	"type", "status", "priority", "is_edited", "content", "file_url",
}

func writeCSV(w io.Writer, msgs []domain.Message) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range msgs {
		m := &msgs[i]
		rec := []string{
			m.ID,
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.RoomID,
			m.SenderID,
			m.SenderName,
			m.Type.String(),
			m.Status.String(),
			m.Priority.String(),
			strconv.FormatBool(m.IsEdited),
			m.Content,
			m.FileURL,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ---- XML ----

type xmlHistory struct {
	XMLName    xml.Name     `xml:"chatHistory"`
	RoomID     string       `xml:"roomId,attr,omitempty"`
	ExportedAt string       `xml:"exportedAt,attr"`
	Count      int          `xml:"count,attr"`
	Messages   []xmlMessage `xml:"message"`
}

type xmlMessage struct {
	ID         string `xml:"id,attr"`
	Timestamp  string `xml:"timestamp,attr"`
	Type       string `xml:"type,attr"`
	Status     string `xml:"status,attr"`
	Priority   string `xml:"priority,attr"`
	Edited     bool   `xml:"edited,attr,omitempty"`
	RoomID     string `xml:"roomId"`
	SenderID   string `xml:"senderId"`
	SenderName string `xml:"senderName,omitempty"`
	Content    string `xml:"content"`
	FileURL    string `xml:"fileUrl,omitempty"`
	FileSize   int64  `xml:"fileSize,omitempty"`
	MimeType   string `xml:"mimeType,omitempty"`
}

func writeXML(w io.Writer, meta Meta, msgs []domain.Message) error {
	doc := xmlHistory{
		RoomID:     meta.RoomID,
		ExportedAt: meta.ExportedAt.UTC().Format(time.RFC3339),
		Count:      len(msgs),
		Messages:   make([]xmlMessage, len(msgs)),
	}
	for i := range msgs {
		m := &msgs[i]
		x := xmlMessage{
			ID:         m.ID,
			Timestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
			Type:       m.Type.String(),
			Status:     m.Status.String(),
			Priority:   m.Priority.String(),
			Edited:     m.IsEdited,
			RoomID:     m.RoomID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Content:    m.Content,
		}
		if m.Type.HasAttachment() {
			x.FileURL, x.FileSize, x.MimeType = m.FileURL, m.FileSize, m.MimeType
		}
		doc.Messages[i] = x
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
