// Package timeseries is the persistence adapter for simulator
// observations. It writes batched records into the people_count,
// sensor_data and bus_position tables and answers the point in time
// read contract: latest, at-or-before and range queries.
package timeseries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	logger "log"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/citypulse-labs/bus-simulator/foundation/backoff"
	"github.com/citypulse-labs/bus-simulator/foundation/database"
)

// Table identifies one of the observation tables
type Table string

const (
	TablePeopleCount Table = "people_count"
	TableSensorData  Table = "sensor_data"
	TableBusPosition Table = "bus_position"
)

// DefaultCallTimeout bounds a single store call independent of the
// retry schedule
const DefaultCallTimeout = 10 * time.Second

// Store writes and reads observation records. Writes are retried with
// exponential backoff; reads return nil rather than an error when no
// row matches.
type Store struct {
	log     *logger.Logger
	db      *sqlx.DB
	retrier *backoff.Retrier
	timeout time.Duration
}

// NewStore creates a Store over db retrying failed writes maxRetries
// times with the shared backoff schedule.
func NewStore(log *logger.Logger, db *sqlx.DB, maxRetries int, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Store{
		log:     log,
		db:      db,
		retrier: backoff.NewRetrier(log, maxRetries),
		timeout: timeout,
	}
}

// Retrier exposes the store's retrier so tests can replace its sleep
func (s *Store) Retrier() *backoff.Retrier {
	return s.retrier
}

// EnsureSchema creates the observation tables when missing. The column
// types are deliberately portable between postgres and sqlite.
func EnsureSchema(db *sqlx.DB) error {
	statements := []string{
		`create table if not exists people_count (
			stop_id text not null,
			time timestamp not null,
			count integer not null,
			line_ids text not null
		)`,
		`create index if not exists people_count_stop_time on people_count (stop_id, time)`,
		`create table if not exists sensor_data (
			entity_id text not null,
			entity_type text not null,
			time timestamp not null,
			temperature_c real not null,
			humidity_pct real not null,
			co2_ppm integer,
			door_status text
		)`,
		`create index if not exists sensor_data_entity_time on sensor_data (entity_type, entity_id, time)`,
		`create table if not exists bus_position (
			bus_id text not null,
			line_id text not null,
			time timestamp not null,
			latitude real not null,
			longitude real not null,
			passenger_count integer not null,
			next_stop_id text not null,
			distance_to_next_stop_m real not null,
			speed_kmh real not null,
			direction integer not null
		)`,
		`create index if not exists bus_position_bus_time on bus_position (bus_id, time)`,
		`create index if not exists bus_position_line_time on bus_position (line_id, time)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("ensuring timeseries schema: %w", err)
		}
	}
	return nil
}

var insertStatements = map[Table]string{
	TablePeopleCount: "insert into people_count " +
		"(stop_id, time, count, line_ids) " +
		"values (:stop_id, :time, :count, :line_ids)",
	TableSensorData: "insert into sensor_data " +
		"(entity_id, entity_type, time, temperature_c, humidity_pct, co2_ppm, door_status) " +
		"values (:entity_id, :entity_type, :time, :temperature_c, :humidity_pct, :co2_ppm, :door_status)",
	TableBusPosition: "insert into bus_position " +
		"(bus_id, line_id, time, latitude, longitude, passenger_count, " +
		"next_stop_id, distance_to_next_stop_m, speed_kmh, direction) " +
		"values (:bus_id, :line_id, :time, :latitude, :longitude, :passenger_count, " +
		":next_stop_id, :distance_to_next_stop_m, :speed_kmh, :direction)",
}

// Write validates and persists a batch of records into table as a single
// insert, retrying transient failures. Validation failures are not
// retried. An empty batch is a no-op.
func (s *Store) Write(ctx context.Context, table Table, records interface{}) error {
	statement, present := insertStatements[table]
	if !present {
		return fmt.Errorf("unknown timeseries table %q", table)
	}

	count, err := validateBatch(table, records)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	statement = s.db.Rebind(statement)
	return s.retrier.Run(fmt.Sprintf("writing %d records to %s", count, table), func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_, err := s.db.NamedExecContext(callCtx, statement, records)
		return err
	})
}

// validateBatch checks every record in the batch and returns the batch size
func validateBatch(table Table, records interface{}) (int, error) {
	switch table {
	case TablePeopleCount:
		batch, ok := records.([]PeopleCount)
		if !ok {
			return 0, backoff.Permanent(fmt.Errorf("table %s requires []PeopleCount, got %T", table, records))
		}
		for i := range batch {
			if err := batch[i].Validate(); err != nil {
				return 0, backoff.Permanent(err)
			}
		}
		return len(batch), nil
	case TableSensorData:
		batch, ok := records.([]SensorReading)
		if !ok {
			return 0, backoff.Permanent(fmt.Errorf("table %s requires []SensorReading, got %T", table, records))
		}
		for i := range batch {
			if err := batch[i].Validate(); err != nil {
				return 0, backoff.Permanent(err)
			}
		}
		return len(batch), nil
	case TableBusPosition:
		batch, ok := records.([]BusPosition)
		if !ok {
			return 0, backoff.Permanent(fmt.Errorf("table %s requires []BusPosition, got %T", table, records))
		}
		for i := range batch {
			if err := batch[i].Validate(); err != nil {
				return 0, backoff.Permanent(err)
			}
		}
		return len(batch), nil
	}
	return 0, fmt.Errorf("unknown timeseries table %q", table)
}

// getRow runs a single row query against table filtered by equality on
// every dims entry, optionally restricted to time <= atOrBefore, picking
// the most recent match. dest is left untouched and (false, nil) is
// returned when no row matches.
func (s *Store) getRow(ctx context.Context,
	dest interface{},
	table Table,
	dims map[string]interface{},
	atOrBefore *time.Time) (bool, error) {

	where, args := buildWhere(dims)
	if atOrBefore != nil {
		where = append(where, "time <= :at_or_before")
		args["at_or_before"] = *atOrBefore
	}
	statement := fmt.Sprintf("select * from %s where %s order by time desc limit 1",
		table, strings.Join(where, " and "))

	query, queryArgs, err := database.PrepareNamedQueryFromMap(statement, s.db, args)
	if err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.db.GetContext(callCtx, dest, query, queryArgs...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", table, err)
	}
	return true, nil
}

// selectRange runs a range query ordered by time ascending, optionally
// limited to limit rows (0 means no limit).
func (s *Store) selectRange(ctx context.Context,
	dest interface{},
	table Table,
	dims map[string]interface{},
	start time.Time,
	end time.Time,
	limit int) error {

	where, args := buildWhere(dims)
	where = append(where, "time >= :range_start", "time <= :range_end")
	args["range_start"] = start
	args["range_end"] = end

	statement := fmt.Sprintf("select * from %s where %s order by time",
		table, strings.Join(where, " and "))
	if limit > 0 {
		statement = fmt.Sprintf("%s limit %d", statement, limit)
	}

	query, queryArgs, err := database.PrepareNamedQueryFromMap(statement, s.db, args)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.SelectContext(callCtx, dest, query, queryArgs...); err != nil {
		return fmt.Errorf("querying %s range: %w", table, err)
	}
	return nil
}

// buildWhere produces deterministic equality clauses from dims
func buildWhere(dims map[string]interface{}) ([]string, map[string]interface{}) {
	keys := make([]string, 0, len(dims))
	for key := range dims {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	where := make([]string, 0, len(keys)+2)
	args := make(map[string]interface{}, len(keys)+2)
	for _, key := range keys {
		where = append(where, fmt.Sprintf("%s = :%s", key, key))
		args[key] = dims[key]
	}
	return where, args
}

// LatestPeopleCount returns the most recent count for stopId, or nil
// when the stop has no data.
func (s *Store) LatestPeopleCount(ctx context.Context, stopId string) (*PeopleCount, error) {
	var row PeopleCount
	found, err := s.getRow(ctx, &row, TablePeopleCount, map[string]interface{}{"stop_id": stopId}, nil)
	if err != nil || !found {
		return nil, err
	}
	return &row, nil
}

// PeopleCountAtOrBefore returns the most recent count for stopId at or
// before ts, or nil when none exists.
func (s *Store) PeopleCountAtOrBefore(ctx context.Context, stopId string, ts time.Time) (*PeopleCount, error) {
	var row PeopleCount
	found, err := s.getRow(ctx, &row, TablePeopleCount, map[string]interface{}{"stop_id": stopId}, &ts)
	if err != nil || !found {
		return nil, err
	}
	return &row, nil
}

// PeopleCountRange returns counts for stopId in [start, end] ordered by
// time, at most limit rows when limit is positive.
func (s *Store) PeopleCountRange(ctx context.Context, stopId string, start, end time.Time, limit int) ([]PeopleCount, error) {
	rows := make([]PeopleCount, 0)
	err := s.selectRange(ctx, &rows, TablePeopleCount, map[string]interface{}{"stop_id": stopId}, start, end, limit)
	return rows, err
}

// LatestSensorReading returns the most recent reading for an entity, or
// nil when it has no data.
func (s *Store) LatestSensorReading(ctx context.Context, entityType, entityId string) (*SensorReading, error) {
	var row SensorReading
	found, err := s.getRow(ctx, &row, TableSensorData,
		map[string]interface{}{"entity_type": entityType, "entity_id": entityId}, nil)
	if err != nil || !found {
		return nil, err
	}
	return &row, nil
}

// SensorReadingAtOrBefore returns the most recent reading for an entity
// at or before ts, or nil when none exists.
func (s *Store) SensorReadingAtOrBefore(ctx context.Context, entityType, entityId string, ts time.Time) (*SensorReading, error) {
	var row SensorReading
	found, err := s.getRow(ctx, &row, TableSensorData,
		map[string]interface{}{"entity_type": entityType, "entity_id": entityId}, &ts)
	if err != nil || !found {
		return nil, err
	}
	return &row, nil
}

// SensorReadingRange returns readings for an entity in [start, end]
// ordered by time, at most limit rows when limit is positive.
func (s *Store) SensorReadingRange(ctx context.Context, entityType, entityId string, start, end time.Time, limit int) ([]SensorReading, error) {
	rows := make([]SensorReading, 0)
	err := s.selectRange(ctx, &rows, TableSensorData,
		map[string]interface{}{"entity_type": entityType, "entity_id": entityId}, start, end, limit)
	return rows, err
}

// LatestBusPosition returns the most recent position for busId, or nil
// when the bus has no data.
func (s *Store) LatestBusPosition(ctx context.Context, busId string) (*BusPosition, error) {
	var row BusPosition
	found, err := s.getRow(ctx, &row, TableBusPosition, map[string]interface{}{"bus_id": busId}, nil)
	if err != nil || !found {
		return nil, err
	}
	return &row, nil
}

// BusPositionAtOrBefore returns the most recent position for busId at or
// before ts, or nil when none exists.
func (s *Store) BusPositionAtOrBefore(ctx context.Context, busId string, ts time.Time) (*BusPosition, error) {
	var row BusPosition
	found, err := s.getRow(ctx, &row, TableBusPosition, map[string]interface{}{"bus_id": busId}, &ts)
	if err != nil || !found {
		return nil, err
	}
	return &row, nil
}

// BusPositionRange returns positions for busId in [start, end] ordered
// by time, at most limit rows when limit is positive.
func (s *Store) BusPositionRange(ctx context.Context, busId string, start, end time.Time, limit int) ([]BusPosition, error) {
	rows := make([]BusPosition, 0)
	err := s.selectRange(ctx, &rows, TableBusPosition, map[string]interface{}{"bus_id": busId}, start, end, limit)
	return rows, err
}

// LatestBusPositionsForLine returns the most recent position of every
// bus currently reporting on lineId.
func (s *Store) LatestBusPositionsForLine(ctx context.Context, lineId string) ([]BusPosition, error) {
	statement := s.db.Rebind("select * from bus_position where line_id = ? order by time desc")

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []BusPosition
	if err := s.db.SelectContext(callCtx, &rows, statement, lineId); err != nil {
		return nil, fmt.Errorf("querying bus positions for line %s: %w", lineId, err)
	}

	seen := make(map[string]bool)
	latest := make([]BusPosition, 0)
	for _, row := range rows {
		if seen[row.BusId] {
			continue
		}
		seen[row.BusId] = true
		latest = append(latest, row)
	}
	return latest, nil
}
