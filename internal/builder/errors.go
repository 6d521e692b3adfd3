package builder

import "errors"

// Sentinel errors surfaced on failed jobs. The error text ends up in the
// job record, so it is written for API consumers.
var (
	// ErrInvalidBundle indicates the submitted file is not a readable zip.
	ErrInvalidBundle = errors.New("bundle is not a valid zip archive")

	// ErrMissingSDK indicates no Android SDK location is configured, which
	// source bundles need for compilation.
	ErrMissingSDK = errors.New("Android SDK not configured; set ANDROID_SDK_ROOT")

	// ErrMissingSignerJAR indicates the uber-apk-signer JAR could not be
	// located at any known path.
	ErrMissingSignerJAR = errors.New("uber-apk-signer JAR not found")

	// ErrNoCompiledAPK indicates compilation produced zero or multiple APK
	// candidates, so there is no unambiguous artifact to sign.
	ErrNoCompiledAPK = errors.New("compilation did not produce exactly one APK")

	// ErrNoSignerOutput indicates signing reported success but wrote no APK
	// to its output directory.
	ErrNoSignerOutput = errors.New("signer produced no output APK")
)
