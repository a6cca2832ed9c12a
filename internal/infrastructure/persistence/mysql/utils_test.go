package mysql

import (
	"errors"
	"fmt"
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/xiebiao/stockledger/internal/domain/reservation"
)

func TestIsDuplicateError(t *testing.T) {
	assert.False(t, isDuplicateError(nil))
	assert.True(t, isDuplicateError(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateError(fmt.Errorf("insert: %w", &mysqldriver.MySQLError{Number: 1062})))
	assert.True(t, isDuplicateError(errors.New("Error 1062: Duplicate entry 'A' for key 'PRIMARY'")))
	assert.False(t, isDuplicateError(errors.New("connection refused")))
}

func TestIsCheckViolation(t *testing.T) {
	assert.True(t, isCheckViolation(&mysqldriver.MySQLError{Number: 3819}))
	assert.False(t, isCheckViolation(&mysqldriver.MySQLError{Number: 1062}))
}

func TestReservationModelRoundTrip(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	res := reservation.New("r1", "A", 3, now, time.Minute)
	assert.NoError(t, res.TransitionTo(reservation.StatusCommitted, now.Add(time.Second)))

	assert.Equal(t, res, toReservation(fromReservation(res)))
}
