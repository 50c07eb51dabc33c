// Package fetch defines the clip fetcher contract the scheduler drives, the
// error taxonomy fetch failures are classified into, and a yt-dlp backed
// implementation used by the CLI.
package fetch
