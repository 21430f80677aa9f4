package domain

// KnownVariables catalogs the ERA5 single-level short names this pipeline is
// normally run against. The catalog is informational (used by gengrid and for
// log context); extraction always trusts the variables actually present in a
// bundle's metadata.
var KnownVariables = map[string]string{
	"sp":    "surface pressure",
	"tp":    "total precipitation",
	"tcc":   "total cloud cover",
	"10u":   "10m U wind component",
	"10v":   "10m V wind component",
	"100u":  "100m U wind component",
	"100v":  "100m V wind component",
	"2t":    "2m temperature",
	"2d":    "2m dewpoint temperature",
	"cape":  "convective available potential energy",
	"cin":   "convective inhibition",
	"lsp":   "large-scale precipitation",
	"cp":    "convective precipitation",
	"lcc":   "low cloud cover",
	"mcc":   "medium cloud cover",
	"hcc":   "high cloud cover",
	"vimd":  "vertically integrated moisture divergence",
	"tclw":  "total column liquid water",
	"tciw":  "total column ice water",
	"cbh":   "cloud base height",
	"i10fg": "instantaneous 10m wind gust",
	"10fg":  "10m wind gust",
}

// DefaultExcludeVariables lists variables without values at all common
// timeframes (accumulated and gust fields); joining them against hourly
// analysis fields produces sparse columns, so they are skipped unless the
// operator overrides the exclude list.
func DefaultExcludeVariables() []string {
	return []string{"10fg", "cbh", "cin", "cp", "i10fg", "lsp", "tp", "vimd"}
}
