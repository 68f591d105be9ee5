package api

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"playsync/internal/constants"
	"regexp"
	"strconv"
	"strings"
)

// PlaysResponse is one page of /xmlapi2/plays.
type PlaysResponse struct {
	XMLName  xml.Name     `xml:"plays"`
	Username string       `xml:"username,attr"`
	UserID   int          `xml:"userid,attr"`
	Total    int          `xml:"total,attr"`
	Page     int          `xml:"page,attr"`
	Plays    []RemotePlay `xml:"play"`
}

// HasMorePages reports whether a page after this one exists.
func (r *PlaysResponse) HasMorePages() bool {
	page := r.Page
	if page < 1 {
		page = 1
	}
	return page*constants.PlaysPageSize < r.Total
}

type RemotePlay struct {
	ID         int            `xml:"id,attr"`
	Date       string         `xml:"date,attr"`
	Quantity   int            `xml:"quantity,attr"`
	Length     int            `xml:"length,attr"`
	Incomplete int            `xml:"incomplete,attr"`
	NoWinStats int            `xml:"nowinstats,attr"`
	Location   string         `xml:"location,attr"`
	Item       RemoteItem     `xml:"item"`
	Comments   string         `xml:"comments"`
	Players    []RemotePlayer `xml:"players>player"`
}

type RemoteItem struct {
	Name       string          `xml:"name,attr"`
	ObjectType string          `xml:"objecttype,attr"`
	ObjectID   int             `xml:"objectid,attr"`
	Subtypes   []RemoteSubtype `xml:"subtypes>subtype"`
}

type RemoteSubtype struct {
	Value string `xml:"value,attr"`
}

type RemotePlayer struct {
	Username      string  `xml:"username,attr"`
	UserID        int     `xml:"userid,attr"`
	Name          string  `xml:"name,attr"`
	StartPosition string  `xml:"startposition,attr"`
	Color         string  `xml:"color,attr"`
	Score         string  `xml:"score,attr"`
	New           int     `xml:"new,attr"`
	Rating        float64 `xml:"rating,attr"`
	Win           int     `xml:"win,attr"`
}

// PlaySaveResponse is the geekplay.php answer to a save.
type PlaySaveResponse struct {
	PlayID   FlexInt `json:"playid"`
	NumPlays FlexInt `json:"numplays"`
	HTML     string  `json:"html"`
	Error    string  `json:"error"`
}

func (r *PlaySaveResponse) HasError() bool { return r.Error != "" }
func (r *PlaySaveResponse) HasAuthError() bool { return isAuthMessage(r.Error) }
func (r *PlaySaveResponse) HasInvalidIDError() bool { return isInvalidIDMessage(r.Error) }

// PlayDeleteResponse is the geekplay.php answer to a delete.
type PlayDeleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r *PlayDeleteResponse) HasError() bool { return r.Error != "" || !r.Success }
func (r *PlayDeleteResponse) HasAuthError() bool { return isAuthMessage(r.Error) }
func (r *PlayDeleteResponse) HasInvalidIDError() bool { return isInvalidIDMessage(r.Error) }

func isAuthMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "login")
}

var invalidPlayIDPattern = regexp.MustCompile(`(?i)\binvalid\s+play\s*id\b`)

// Only "invalid play id" means the play is gone remotely; "Invalid request"
// and friends are transient failures.
func isInvalidIDMessage(msg string) bool {
	return invalidPlayIDPattern.MatchString(msg)
}

// FlexInt accepts both 123 and "123"; geekplay.php is inconsistent about it.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*f = FlexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}
