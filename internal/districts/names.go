package districts

// Entry is one row of the fixed quarter table shared with the frontend.
type Entry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Table maps the nineteen residential quarters plus the fallback slot to
// their stable ids. The frontend groups artifacts by these ids.
var Table = []Entry{
	{1, "Altstadt Grossbasel"},
	{2, "Altstadt Kleinbasel"},
	{3, "Vorstädte"},
	{4, "Am Ring"},
	{5, "Breite"},
	{6, "Gundeldingen"},
	{7, "St. Johann"},
	{8, "St. Alban"},
	{9, "Iselin"},
	{10, "Bruderholz"},
	{11, "Bachletten"},
	{12, "Gotthelf"},
	{13, "Clara"},
	{14, "Wettstein"},
	{15, "Hirzbrunnen"},
	{16, "Rosental"},
	{17, "Matthäus"},
	{18, "Klybeck"},
	{19, "Kleinhüningen"},
	{20, DefaultOutsideName},
}

// Lookup returns the table entry for id.
func Lookup(id int) (Entry, bool) {
	if !validID(id) {
		return Entry{}, false
	}
	e := Table[id-1]
	return e, e.ID == id
}

// TableWithOutside returns a copy of Table whose last entry carries the
// configured fallback name.
func TableWithOutside(outsideName string) []Entry {
	out := make([]Entry, len(Table))
	copy(out, Table)
	out[OutsideID-1].Name = Outside(outsideName).Name
	return out
}
