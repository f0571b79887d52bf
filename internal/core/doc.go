// Package core implements the session lifecycle of sheetquery: uploading
// tabular files, choosing sheets, previewing them, asking questions about
// them and retrieving or exporting the answer.
//
// This package holds all domain logic, independent of any transport. The
// HTTP server and the CLI both drive it through [Service].
//
// # Lifecycle
//
//  1. [Service.Upload] saves .csv and .xlsx files into a per-session
//     directory and lists each workbook's sheets.
//  2. [Service.SelectTables] chooses sheets per file. CSV files have one
//     implicit sheet named [DefaultTable].
//  3. [Service.Preview] returns the first [PreviewRows] rows of each selected sheet.
//  4. [Service.Query] loads every selected sheet in full, hands the tables to
//     the engine and stores the normalized [Response] on the session.
//  5. [Service.Response] and [Service.Export] return the stored answer, the
//     latter as a workbook or image download.
//
// # Responses
//
// Engines return untyped values. The [Normalizer] is the only place that
// decides which variant of [Response] a value becomes: tables, plots (an
// image on disk) or scalars.
//
// # Concurrency
//
// The session registry is guarded by a read/write mutex. Each session has
// a state mutex and a query mutex, so queries on one session are serialized
// while different sessions run in parallel. A [QueryLimiter] bounds engine
// calls across the process.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code for support reference:
//
//   - SES001: session errors
//   - FILE001-FILE007: upload errors
//   - QRY001-QRY005: query errors
//   - ART001-ART002: result file errors
//
// # Expiry
//
// Sessions idle for longer than the configured TTL are removed by the
// reaper started with [Service.StartReaper], together with their files.
package core
