// Package excel imports the task bank from spreadsheets and exports the
// user directory for owners.
package excel

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/studybot/internal/users"
	"github.com/xuri/excelize/v2"
)

// ExportSheet is the sheet holding exported users
const ExportSheet = "Sheet1"

var exportHeader = []interface{}{
	"ID", "Имя", "Username", "Предмет", "Бесплатных сегодня",
	"Дата бесплатных", "Премиум до (UTC)", "Пригласил", "Приглашённые",
}

// ExportUsers renders entries as an xlsx workbook, one row per user
func ExportUsers(entries []users.Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, e := range entries {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := userRow(e)
		if err := f.SetSheetRow(ExportSheet, cellName, &row); err != nil {
			return nil, fmt.Errorf("failed to write user %s: %w", e.ID, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func userRow(e users.Entry) []interface{} {
	u := e.User

	subject := ""
	if u.Subject != nil {
		subject = *u.Subject
	}
	referrer := ""
	if u.Referrer != nil {
		referrer = *u.Referrer
	}
	premium := ""
	if u.PremiumUntil > 0 {
		premium = time.Unix(u.PremiumUntil, 0).UTC().Format(time.DateTime)
	}

	return []interface{}{
		e.ID, u.FullName, u.Username, subject, u.FreeUsesToday,
		u.LastFreeDate, premium, referrer, strings.Join(u.Referrals, ", "),
	}
}
