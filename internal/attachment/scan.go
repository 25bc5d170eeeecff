// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package attachment

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bcem/mailingest/internal/models"
)

var (
	imageTypes = map[string]bool{
		"image/jpeg": true, "image/png": true, "image/gif": true,
		"image/bmp": true, "image/webp": true, "image/tiff": true,
	}
	documentTypes = map[string]bool{
		"application/pdf":    true,
		"application/msword": true,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		"application/vnd.ms-excel": true,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
		"application/vnd.ms-powerpoint":                                     true,
		"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
		"text/plain": true, "text/csv": true, "application/rtf": true,
	}
	archiveTypes = map[string]bool{
		"application/zip": true, "application/x-rar-compressed": true,
		"application/x-tar": true, "application/gzip": true,
		"application/x-7z-compressed": true,
	}
	executableTypes = map[string]bool{
		"application/x-executable": true, "application/x-msdos-program": true,
		"application/x-msdownload": true, "application/x-dosexec": true,
	}
	scriptTypes = map[string]bool{
		"application/javascript": true, "text/javascript": true,
		"application/x-sh": true, "application/x-python-code": true,
		"text/x-python": true,
	}

	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".bmp": true, ".webp": true,
	}
	documentExts = map[string]bool{
		".pdf": true, ".doc": true, ".docx": true, ".xls": true,
		".xlsx": true, ".ppt": true, ".pptx": true, ".txt": true,
		".csv": true, ".rtf": true, ".odt": true,
	}
	archiveExts = map[string]bool{
		".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	}
	executableExts = map[string]bool{
		".exe": true, ".bat": true, ".cmd": true, ".com": true,
		".scr": true, ".pif": true, ".msi": true, ".dll": true,
	}
	scriptExts = map[string]bool{
		".js": true, ".py": true, ".sh": true, ".ps1": true, ".vbs": true,
	}
	macroExts = map[string]bool{
		".docm": true, ".xlsm": true, ".pptm": true,
	}
)

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pdfMagic  = []byte("%PDF-")
	zipMagic  = []byte("PK\x03\x04")
)

var suspiciousPatterns = [][]byte{
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("<script"),
	[]byte("eval("),
	[]byte("document.write"),
	[]byte("window.open"),
	[]byte("activex"),
}

// detectMIME infers a MIME type from magic bytes, falling back to the
// file extension. docx and xlsx share the ZIP magic and are told apart
// by extension.
func detectMIME(payload []byte, filename string) string {
	switch {
	case bytes.HasPrefix(payload, pngMagic):
		return "image/png"
	case bytes.HasPrefix(payload, jpegMagic):
		return "image/jpeg"
	case bytes.HasPrefix(payload, pdfMagic):
		return "application/pdf"
	case bytes.HasPrefix(payload, zipMagic):
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".docx":
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case ".xlsx":
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		default:
			return "application/zip"
		}
	}

	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return "application/octet-stream"
}

// categorize determines the file category from extension, MIME type and
// magic bytes together; no single signal is trusted alone.
func categorize(filename, contentType string, payload []byte) models.FileCategory {
	ext := strings.ToLower(filepath.Ext(filename))
	detected := detectMIME(payload, filename)

	switch {
	case isExecutable(ext, contentType):
		return models.CategoryExecutable
	case strings.HasPrefix(contentType, "image/") || strings.HasPrefix(detected, "image/") || imageExts[ext]:
		return models.CategoryImage
	case documentTypes[contentType] || documentTypes[detected] || documentExts[ext] || strings.HasPrefix(contentType, "text/"):
		return models.CategoryDocument
	case archiveTypes[contentType] || archiveTypes[detected] || archiveExts[ext]:
		return models.CategoryArchive
	default:
		return models.CategoryOther
	}
}

func isExecutable(ext, contentType string) bool {
	return executableExts[ext] || executableTypes[contentType]
}

// analyzeSecurity scans one attachment for risk indicators. A single
// indicator class yields medium risk, two or more yield high. The
// second return value reports whether the file is executable, which
// drives the storage policy.
func analyzeSecurity(filename, contentType string, payload []byte) (models.SecurityVerdict, bool) {
	ext := strings.ToLower(filepath.Ext(filename))

	var indicators []string
	classes := 0

	executable := isExecutable(ext, contentType)
	if executable {
		indicators = append(indicators, "executable file")
		classes++
	}

	if scriptExts[ext] || scriptTypes[contentType] || bytes.HasPrefix(payload, []byte("#!")) {
		indicators = append(indicators, "script content")
		classes++
	}

	if macroExts[ext] || bytes.Contains(payload, []byte("vbaProject")) {
		indicators = append(indicators, "macro-enabled document")
		classes++
	}

	lowered := bytes.ToLower(payload)
	matched := false
	for _, pattern := range suspiciousPatterns {
		if bytes.Contains(lowered, pattern) {
			indicators = append(indicators, "suspicious pattern "+string(pattern))
			matched = true
		}
	}
	if matched {
		classes++
	}

	risk := models.RiskLow
	switch {
	case classes >= 2:
		risk = models.RiskHigh
	case classes == 1:
		risk = models.RiskMedium
	}
	return models.SecurityVerdict{Risk: risk, Indicators: indicators}, executable
}
