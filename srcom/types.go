package srcom

import (
	"bytes"

	"github.com/goccy/go-json"

	"speedrun-backend/models"
)

type envelope[T any] struct {
	Data T `json:"data"`
}

type pageLink struct {
	Rel string `json:"rel"`
	URI string `json:"uri"`
}

type pagination struct {
	Offset int        `json:"offset"`
	Max    int        `json:"max"`
	Size   int        `json:"size"`
	Links  []pageLink `json:"links"`
}

func (p pagination) hasNext() bool {
	for _, l := range p.Links {
		if l.Rel == "next" {
			return true
		}
	}
	return false
}

type runsPage struct {
	Data       []runDTO   `json:"data"`
	Pagination pagination `json:"pagination"`
}

type gameDTO struct {
	ID           string `json:"id"`
	Abbreviation string `json:"abbreviation"`
}

type categoryDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type levelDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type platformDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ref is a resource field that the API sends as a bare id, as null, or,
// when embedded, as {"data": {...}}. An embedded null comes back as
// {"data": []}.
type ref[T any] struct {
	ID       string
	Embedded *T
}

func (r *ref[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	r.Embedded = &v
	return nil
}

type playerNames struct {
	International string `json:"international"`
	Japanese      string `json:"japanese"`
}

// playerRef is either {"rel":"user","id":...} or {"rel":"guest","name":...};
// embedded users also carry names.
type playerRef struct {
	Rel   string       `json:"rel"`
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Names *playerNames `json:"names"`
}

func (p playerRef) displayName() string {
	if p.Rel == "guest" {
		return p.Name
	}
	if p.Names != nil {
		if p.Names.International != "" {
			return p.Names.International
		}
		return p.Names.Japanese
	}
	return p.Name
}

// playerList accepts both the bare array and the embedded {"data": [...]} form.
type playerList []playerRef

func (l *playerList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var refs []playerRef
	if b[0] == '[' {
		if err := json.Unmarshal(b, &refs); err != nil {
			return err
		}
	} else {
		var env envelope[[]playerRef]
		if err := json.Unmarshal(b, &env); err != nil {
			return err
		}
		refs = env.Data
	}
	*l = refs
	return nil
}

type runTimes struct {
	Primary  string   `json:"primary"`
	PrimaryT *float64 `json:"primary_t"`
}

type runSystem struct {
	Platform *string `json:"platform"`
}

type runDTO struct {
	ID        string           `json:"id"`
	Category  ref[categoryDTO] `json:"category"`
	Level     ref[levelDTO]    `json:"level"`
	Platform  ref[platformDTO] `json:"platform"`
	Players   playerList       `json:"players"`
	Date      *string          `json:"date"`
	Submitted *string          `json:"submitted"`
	Times     runTimes         `json:"times"`
	System    runSystem        `json:"system"`
}

func (r runDTO) toExternalRun() models.ExternalRun {
	run := models.ExternalRun{
		ID:             r.ID,
		PrimarySeconds: r.Times.PrimaryT,
		PrimaryISO:     r.Times.Primary,
	}

	for _, p := range r.Players {
		name := p.displayName()
		if name == "" {
			name = models.UnknownPlayer
		}
		run.PlayerNames = append(run.PlayerNames, name)
	}

	run.CategoryID = r.Category.ID
	if c := r.Category.Embedded; c != nil {
		run.CategoryID = c.ID
		run.CategoryName = c.Name
		run.CategoryType = c.Type
	}

	run.LevelID = r.Level.ID
	if l := r.Level.Embedded; l != nil {
		run.LevelID = l.ID
		run.LevelName = l.Name
	}

	if r.System.Platform != nil {
		run.PlatformID = *r.System.Platform
	}
	if p := r.Platform.Embedded; p != nil {
		run.PlatformID = p.ID
		run.PlatformName = p.Name
	} else if run.PlatformID == "" {
		run.PlatformID = r.Platform.ID
	}

	if r.Date != nil {
		run.Date = *r.Date
	}
	if r.Submitted != nil {
		run.Submitted = *r.Submitted
	}
	return run
}
