package railref

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/travigo-eta/pkg/ctdf"
	"github.com/travigo/travigo-eta/pkg/database"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrNoStationFile = errors.New("no MSN file in timetable reference bundle")

// Loader imports TIPLOC stop locations from a timetable reference bundle, either a zip
// containing a Master Station Names file or the MSN file itself
type Loader struct {
	Now func() time.Time
}

func openMSN(contents io.ReaderAt, size int64) (io.ReadCloser, error) {
	signature := make([]byte, 4)
	if _, err := contents.ReadAt(signature, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if !bytes.Equal(signature, []byte("PK\x03\x04")) {
		return io.NopCloser(io.NewSectionReader(contents, 0, size)), nil
	}

	archive, err := zip.NewReader(contents, size)
	if err != nil {
		return nil, err
	}

	for _, zipFile := range archive.File {
		if strings.EqualFold(filepath.Ext(zipFile.Name), ".MSN") {
			return zipFile.Open()
		}
	}

	return nil, ErrNoStationFile
}

func (l *Loader) Convert(msn *MasterStationNames, source string) []*ctdf.Stop {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}

	datasource := &ctdf.DataSource{
		OriginalFormat: "CIF-MSN",
		Provider:       "National Rail",
		Dataset:        source,
		Identifier:     source,
		Timestamp:      now.Format(time.RFC3339),
	}

	var stops []*ctdf.Stop
	seen := map[string]bool{}

	for _, station := range msn.PhysicalStations {
		if station.TIPLOCCode == "" || seen[station.TIPLOCCode] {
			continue
		}

		latitude, longitude, err := station.LatLon()
		if err != nil {
			log.Debug().Err(err).Msg("Skipping station")
			continue
		}
		seen[station.TIPLOCCode] = true

		stop := &ctdf.Stop{
			PrimaryIdentifier: fmt.Sprintf(ctdf.TiplocStopIDFormat, station.TIPLOCCode),
			OtherIdentifiers: map[string]string{
				"Tiploc": station.TIPLOCCode,
			},
			CreationDateTime:     now,
			ModificationDateTime: now,
			DataSource:           datasource,
			PrimaryName:          station.StationName,
			Location:             ctdf.NewLocation(latitude, longitude),
		}
		if station.CRSCode != "" {
			stop.OtherIdentifiers["Crs"] = station.CRSCode
		}

		stops = append(stops, stop)
	}

	return stops
}

func (l *Loader) Load(ctx context.Context, name string, contents io.ReaderAt, size int64) error {
	reader, err := openMSN(contents, size)
	if err != nil {
		return err
	}
	defer reader.Close()

	msn, err := ParseMSN(reader)
	if err != nil {
		return err
	}

	stops := l.Convert(msn, name)

	log.Info().
		Str("file", name).
		Int("stations", len(msn.PhysicalStations)).
		Int("aliases", len(msn.StationAliases)).
		Int("stops", len(stops)).
		Msg("Parsed Master Station Names")

	var operations []mongo.WriteModel
	for _, stop := range stops {
		operations = append(operations, database.StopWriteModel(stop))
	}

	return database.BulkWrite(ctx, "stops", operations, 1000)
}
