package grib

// Surface types of code table 4.5 used by the sources.
const (
	SurfaceGround          = 1
	SurfaceCloudBase       = 2
	SurfaceEntireAtmos     = 10
	SurfaceHeightAboveMSL  = 102
	SurfaceHeightAboveGrnd = 103
	SurfaceLowCloudLayer   = 214
	SurfaceMidCloudLayer   = 224
	SurfaceHighCloudLayer  = 234
)

type code struct {
	discipline, category, number uint8
}

// shortNames maps meteorological parameter codes to their conventional short
// names.
var shortNames = map[code]string{
	{0, 0, 0}:  "t",
	{0, 0, 6}:  "dpt",
	{0, 1, 1}:  "r",
	{0, 1, 7}:  "prate",
	{0, 1, 8}:  "tp",
	{0, 1, 11}: "sde",
	{0, 1, 60}: "sdwe",
	{0, 1, 65}: "rprate",
	{0, 2, 0}:  "10wdir",
	{0, 2, 1}:  "10si",
	{0, 2, 2}:  "u",
	{0, 2, 3}:  "v",
	{0, 3, 0}:  "sp",
	{0, 3, 1}:  "prmsl",
	{0, 3, 5}:  "h",
	{0, 4, 7}:  "dswrf",
	{0, 5, 3}:  "dlwrf",
	{0, 6, 1}:  "tcc",
	{0, 6, 3}:  "lcc",
	{0, 6, 4}:  "mcc",
	{0, 6, 5}:  "hcc",
	{0, 6, 11}: "cdcb",
	{0, 19, 0}: "vis",
}

// ShortName returns the short name of a parameter code, or "unknown".
func ShortName(discipline, category, number uint8) string {
	if n, ok := shortNames[code{discipline, category, number}]; ok {
		return n
	}
	return "unknown"
}
