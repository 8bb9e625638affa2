package ctdf

type DataSource struct {
	OriginalFormat string `groups:"internal"` // or enum (eg. GTFS-RT, SIRI-VM)
	Provider       string `groups:"internal"`
	Dataset        string `groups:"internal"`
	Identifier     string `groups:"internal"`
	Timestamp      string `groups:"internal"`
}
