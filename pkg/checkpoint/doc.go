// Package checkpoint keeps a journal of per-item sync outcomes.
//
// The journal is rewritten atomically after every finished item, so an
// interrupted run can be resumed by skipping products that already
// succeeded. It also serves as the run report once the run completes.
//
// Journals are stored in platform-specific data directories:
//   - Linux: ~/.local/share/productsync/journals/
//   - macOS: ~/Library/Application Support/productsync/journals/
//   - Windows: %APPDATA%/productsync/journals/
package checkpoint
