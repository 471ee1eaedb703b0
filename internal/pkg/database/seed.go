package database

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//SeedIdentity is recorded as the author of every seeded pin
var SeedIdentity = domain.Identity{ID: "seed", DisplayName: "AccessMap"}

//SeedIfEmpty seeds the datastore from rd unless it already holds pins, so that restarting on
//a persistent store does not duplicate the seed records
func SeedIfEmpty(db Datastore, c *catalog.Catalog, rd io.Reader) (int, error) {
	if existing := db.GetPinCount(); existing > 0 {
		log.Infof("Datastore already holds %d pins. Skipping seed.", existing)
		return 0, nil
	}

	return SeedFromReader(db, c, rd)
}

//SeedFromReader reads category;problemId;lat;lng;severity;comment records and stores them as pins.
//Records that do not match the catalog are skipped.
func SeedFromReader(db Datastore, c *catalog.Catalog, rd io.Reader) (int, error) {
	scanner := bufio.NewScanner(rd)
	count := 0
	base := time.Now().UTC()

	log.Infof("Seeding datastore ...")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ";")
		if len(parts) < 4 {
			log.Errorf("Too few fields in seed record %q. Skipping record.", line)
			continue
		}

		lat, laterr := strconv.ParseFloat(parts[2], 64)
		lng, lngerr := strconv.ParseFloat(parts[3], 64)
		if laterr != nil || lngerr != nil {
			log.Errorf("Failed to parse (%s,%s) as a coordinate. Skipping record.", parts[2], parts[3])
			continue
		}

		_, problem, err := c.Resolve(parts[0], parts[1], "")
		if err != nil {
			log.Errorf("%s. Skipping record.", err.Error())
			continue
		}

		severity := domain.Severity("")
		if len(parts) > 4 {
			severity, err = domain.ParseSeverity(parts[4])
			if err != nil {
				log.Errorf("%s. Skipping record.", err.Error())
				continue
			}
		}

		comment := ""
		if len(parts) > 5 {
			comment = strings.Join(parts[5:], ";")
		}

		pin := domain.Pin{
			ID:                uuid.New().String(),
			Lat:               lat,
			Lng:               lng,
			Category:          parts[0],
			ProblemID:         problem.ID,
			ProblemLabel:      problem.Label,
			Glyph:             problem.Glyph,
			Severity:          severity,
			Comment:           comment,
			AuthorID:          SeedIdentity.ID,
			AuthorDisplayName: SeedIdentity.DisplayName,
			// keep file order as newest first
			CreatedAt: base.Add(-time.Duration(count) * time.Millisecond),
		}

		if err = db.CreatePin(pin); err != nil {
			return count, err
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		log.Errorf(" > Failed with error: %v\n", err)
		return count, err
	}

	log.Infof("Datastore seeded with %d pins.", count)

	return count, nil
}
