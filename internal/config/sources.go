package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/nwp-consumer/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// CEDA configures the CEDA archive source.
type CEDA struct {
	FTPUser    string
	FTPPass    string
	FTPAddr    string
	ListingURL string
}

// LoadCEDA reads the CEDA_* group.
func LoadCEDA() (CEDA, error) {
	if err := Validate("ceda"); err != nil {
		return CEDA{}, err
	}
	return CEDA{
		FTPUser:    os.Getenv("CEDA_FTP_USER"),
		FTPPass:    os.Getenv("CEDA_FTP_PASS"),
		FTPAddr:    sharedcfg.EnvOrDefault("CEDA_FTP_ADDR", "ftp.ceda.ac.uk:21"),
		ListingURL: sharedcfg.EnvOrDefault("CEDA_LISTING_URL", "https://data.ceda.ac.uk"),
	}, nil
}

// MetOffice configures the Met Office order API source.
type MetOffice struct {
	OrderID      string
	ClientID     string
	ClientSecret string
	Area         string
	Format       string // "grib" or "netcdf"
	BaseURL      string
}

// Met Office order areas.
const (
	AreaUK     = "uk-deterministic-2km"
	AreaGlobal = "global-deterministic-10km"
)

// LoadMetOffice reads the METOFFICE_* group.
func LoadMetOffice() (MetOffice, error) {
	if err := Validate("metoffice"); err != nil {
		return MetOffice{}, err
	}
	area := sharedcfg.EnvOrDefault("METOFFICE_AREA", AreaUK)
	if area != AreaUK && area != AreaGlobal {
		return MetOffice{}, fmt.Errorf("%w: METOFFICE_AREA must be %s or %s", domain.ErrConfig, AreaUK, AreaGlobal)
	}
	format := strings.ToLower(sharedcfg.EnvOrDefault("METOFFICE_FORMAT", "grib"))
	if format != "grib" && format != "netcdf" {
		return MetOffice{}, fmt.Errorf("%w: METOFFICE_FORMAT must be grib or netcdf", domain.ErrConfig)
	}
	return MetOffice{
		OrderID:      os.Getenv("METOFFICE_ORDER_ID"),
		ClientID:     os.Getenv("METOFFICE_CLIENT_ID"),
		ClientSecret: os.Getenv("METOFFICE_CLIENT_SECRET"),
		Area:         area,
		Format:       format,
		BaseURL:      sharedcfg.EnvOrDefault("METOFFICE_BASE_URL", "https://api-metoffice.apiconnect.ibmcloud.com/1.0.0"),
	}, nil
}

// ICON configures the DWD ICON-EU source.
type ICON struct {
	ParameterGroup string // "basic" or "full"
	Hours          int
	BaseURL        string
}

// LoadICON reads the ICON_* group.
func LoadICON() (ICON, error) {
	group := strings.ToLower(sharedcfg.EnvOrDefault("ICON_PARAMETER_GROUP", "basic"))
	if group != "basic" && group != "full" {
		return ICON{}, fmt.Errorf("%w: ICON_PARAMETER_GROUP must be basic or full", domain.ErrConfig)
	}
	hours, err := parsePositive("ICON_HOURS", 48)
	if err != nil {
		return ICON{}, err
	}
	return ICON{
		ParameterGroup: group,
		Hours:          hours,
		BaseURL:        sharedcfg.EnvOrDefault("ICON_BASE_URL", "https://opendata.dwd.de/weather/nwp/icon-eu/grib"),
	}, nil
}

// GFS configures the NOAA GFS bucket source.
type GFS struct {
	Bucket   string
	Endpoint string
	Secure   bool
	Hours    int
}

// LoadGFS reads the GFS_* group.
func LoadGFS() (GFS, error) {
	hours, err := parsePositive("GFS_HOURS", 48)
	if err != nil {
		return GFS{}, err
	}
	return GFS{
		Bucket:   sharedcfg.EnvOrDefault("GFS_BUCKET", "noaa-gfs-bdp-pds"),
		Endpoint: sharedcfg.EnvOrDefault("GFS_ENDPOINT", "s3.amazonaws.com"),
		Secure:   sharedcfg.EnvOrDefault("GFS_INSECURE", "false") != "true",
		Hours:    hours,
	}, nil
}
