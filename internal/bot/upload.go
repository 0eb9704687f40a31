package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicdesk/clinicbot/internal/schedule"
)

func (d *Dispatcher) startScheduleUpload(_ context.Context, s *session, _ Event) ([]Reply, error) {
	s.state.Upload = &UploadState{}
	return []Reply{textReply("Which month is this schedule for? (YYYY-MM)")}, nil
}

// handleUpload drives the two-step schedule upload: month first, then the
// file. A rejected batch keeps the axis active so the admin can resend a
// fixed file without starting over.
func (d *Dispatcher) handleUpload(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	if !s.state.Upload.awaitingFile() {
		month := strings.TrimSpace(ev.Text)
		if _, err := time.Parse(schedule.MonthLayout, month); err != nil {
			return []Reply{textReply("That does not look like a month. Use the YYYY-MM form, e.g. 2026-09:")}, nil
		}
		s.state.Upload.Month = month
		return []Reply{textReply(
			"Now send the schedule file for " + month + " as CSV with columns: " +
				"doctor_name, clinic_name, date, start, end, duration_minutes.",
		)}, nil
	}

	if ev.File == nil {
		return []Reply{textReply(fmt.Sprintf("Send the schedule file as an attachment, or go back with %q.", cmdMainMenu))}, nil
	}

	data, err := d.files.Fetch(ctx, ev.File.ID)
	if err != nil {
		d.log.Error().Err(err).Str("file_id", ev.File.ID).Msg("schedule file fetch failed")
		return []Reply{textReply("Could not download the file. Please send it again.")}, nil
	}

	rows, err := schedule.ParseCSV(data)
	if err != nil {
		return []Reply{textReply(uploadRejection(err))}, nil
	}

	count, err := d.ingest.Ingest(ctx, s.state.Upload.Month, rows)
	if err != nil {
		if errors.Is(err, schedule.ErrBadBatch) {
			return []Reply{textReply(uploadRejection(err))}, nil
		}
		return nil, fmt.Errorf("ingest schedule: %w", err)
	}

	month := s.state.Upload.Month
	s.state.Upload = nil
	return []Reply{
		textReply(fmt.Sprintf("Schedule for %s applied: %d slots created.", month, count)),
		d.mainMenu(s.user),
	}, nil
}

func uploadRejection(err error) string {
	return "Schedule rejected, nothing was applied.\n" + err.Error() + "\nFix the file and send it again."
}
