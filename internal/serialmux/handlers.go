package serialmux

import (
	"fmt"

	"github.com/banshee-data/barcode.scanner/internal/db"
	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/publish"
	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/timeutil"
)

// HandleScan stores a completed scan and forwards it to pub. pub may be nil.
func HandleScan(d *db.DB, pub publish.Publisher, scan Scan) error {
	monitoring.Logf("scan %s: %q", scan.ID, scan.Payload)
	if err := d.RecordScan(db.ScanRecord{
		ID:        scan.ID,
		Payload:   scan.Payload,
		CodeID:    scan.CodeID,
		Truncated: scan.Truncated,
		ScannedAt: scan.ScannedAt,
	}); err != nil {
		return err
	}
	if pub != nil {
		if err := pub.Publish(scan); err != nil {
			return fmt.Errorf("failed to publish scan %s: %w", scan.ID, err)
		}
	}
	return nil
}

// CommandRecorder returns a handshake hook that appends every handshake to
// the command log. Use it as scanner.Options.OnHandshake.
func CommandRecorder(d *db.DB, clock timeutil.Clock) func(scanner.HandshakeEvent) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return func(ev scanner.HandshakeEvent) {
		rec := db.CommandRecord{
			Opcode:    ev.Command.Opcode,
			Argument:  ev.Command.Argument,
			Result:    ev.Result.String(),
			Duration:  ev.Duration,
			Discarded: ev.Discarded,
			SentAt:    clock.Now().Add(-ev.Duration),
		}
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
		if _, err := d.RecordCommand(rec); err != nil {
			monitoring.Logf("failed to record command: %v", err)
		}
	}
}
