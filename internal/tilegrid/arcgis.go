package tilegrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/paulmach/orb"
)

// serviceInfo is the subset of an ArcGIS REST MapServer document we read.
type serviceInfo struct {
	TileInfo *struct {
		Rows   int `json:"rows"`
		Cols   int `json:"cols"`
		Origin struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"origin"`
		SpatialReference spatialReference `json:"spatialReference"`
		LODs             []LevelInfo      `json:"lods"`
	} `json:"tileInfo"`
	SpatialReference spatialReference `json:"spatialReference"`
}

type spatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

func (s spatialReference) id() int {
	if s.LatestWKID != 0 {
		return s.LatestWKID
	}
	return s.WKID
}

// ParseServiceInfo builds a Descriptor from a MapServer JSON document.
func ParseServiceInfo(serviceURL string, data []byte) (*Descriptor, error) {
	var info serviceInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse service info: %w", err)
	}
	if info.TileInfo == nil {
		return nil, fmt.Errorf("service %s is not tiled: missing tileInfo", serviceURL)
	}
	ti := info.TileInfo
	if (ti.Rows != 0 && ti.Rows != TileSize) || (ti.Cols != 0 && ti.Cols != TileSize) {
		return nil, fmt.Errorf("unsupported tile size %dx%d (want %d)", ti.Cols, ti.Rows, TileSize)
	}

	wkid := ti.SpatialReference.id()
	if wkid == 0 {
		wkid = info.SpatialReference.id()
	}

	return NewDescriptor(Spec{
		URL:    serviceURL,
		Levels: ti.LODs,
		Origin: orb.Point{ti.Origin.X, ti.Origin.Y},
		WKID:   wkid,
	})
}

// LoadDescriptor fetches {serviceURL}?f=json and parses its tile info.
func LoadDescriptor(ctx context.Context, client *http.Client, serviceURL string) (*Descriptor, error) {
	serviceURL = TrimURL(serviceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL+"?f=json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build service info request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch service info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch service info: unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read service info: %w", err)
	}
	return ParseServiceInfo(serviceURL, data)
}
