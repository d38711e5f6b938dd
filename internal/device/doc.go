// Package device provides the receiver registry for the eISCP bridge.
//
// The registry persists two things:
//
//   - Known receivers: every receiver seen via discovery or configured
//     statically, with network address, model, and MAC. Receivers are
//     keyed by MAC when available so they survive DHCP lease changes.
//
//   - Last known state: the most recent argument reported for each
//     three-character status code. This lets the bridge republish
//     retained state after a restart without querying the receiver.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//
//	rec := &device.Receiver{
//	    ID:    device.GenerateID(d.MAC, d.Host, d.Port),
//	    Host:  d.Host,
//	    Port:  d.Port,
//	    Model: d.Model,
//	}
//	if err := repo.Upsert(ctx, rec); err != nil {
//	    return err
//	}
//
//	repo.SetState(ctx, rec.ID, "PWR", "01")
//
// # Thread Safety
//
// The repository is safe for concurrent use; SQLite serialises writes
// through the connection pool.
package device
