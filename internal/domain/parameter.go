package domain

import (
	"slices"
	"strings"
)

// Parameter is a meteorological variable in the common short-name vocabulary.
type Parameter string

const (
	LowCloudCover                   Parameter = "lcc"
	MediumCloudCover                Parameter = "mcc"
	HighCloudCover                  Parameter = "hcc"
	TotalCloudCover                 Parameter = "tcc"
	VisibilityAGL                   Parameter = "vis"
	RelativeHumidityAGL             Parameter = "r"
	RainPrecipitationRate           Parameter = "prate"
	TotalPrecipitation              Parameter = "tp"
	SnowDepthWaterEquivalent        Parameter = "sde"
	DownwardShortWaveRadiationFlux  Parameter = "dswrf"
	DownwardLongWaveRadiationFlux   Parameter = "dlwrf"
	TemperatureAGL                  Parameter = "t"
	WindSpeedSurfaceAdjustedAGL     Parameter = "si10"
	WindDirectionSurfaceAdjustedAGL Parameter = "wdir10"
	WindUComponentAGL               Parameter = "u10"
	WindVComponentAGL               Parameter = "v10"
)

// canonicalOrder fixes the position of each parameter on the variable axis.
var canonicalOrder = []Parameter{
	LowCloudCover,
	MediumCloudCover,
	HighCloudCover,
	TotalCloudCover,
	VisibilityAGL,
	RelativeHumidityAGL,
	RainPrecipitationRate,
	TotalPrecipitation,
	SnowDepthWaterEquivalent,
	DownwardShortWaveRadiationFlux,
	DownwardLongWaveRadiationFlux,
	TemperatureAGL,
	WindSpeedSurfaceAdjustedAGL,
	WindDirectionSurfaceAdjustedAGL,
	WindUComponentAGL,
	WindVComponentAGL,
}

// Parameters returns the full vocabulary in canonical order.
func Parameters() []Parameter {
	return slices.Clone(canonicalOrder)
}

// Known reports whether p belongs to the vocabulary.
func (p Parameter) Known() bool {
	return slices.Contains(canonicalOrder, p)
}

// Rank is the position of p on the variable axis. Parameters outside the
// vocabulary sort after all known ones.
func (p Parameter) Rank() int {
	if i := slices.Index(canonicalOrder, p); i >= 0 {
		return i
	}
	return len(canonicalOrder)
}

// CompareParameters orders parameters by rank, then lexically.
func CompareParameters(a, b Parameter) int {
	if ra, rb := a.Rank(), b.Rank(); ra != rb {
		return ra - rb
	}
	return strings.Compare(string(a), string(b))
}

// SortParameters sorts ps in place into canonical order.
func SortParameters(ps []Parameter) {
	slices.SortFunc(ps, CompareParameters)
}
