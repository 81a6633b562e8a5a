package metafile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dirmirror/dirmirror/pkg/util"
)

// MetaFileName is the name of the pass metadata file written into the destination root.
const MetaFileName = ".dirmirror.meta.json"

// PassCounters holds the result counters of one completed pass.
type PassCounters struct {
	FilesCopied   int64 `json:"filesCopied"`
	FilesUpToDate int64 `json:"filesUpToDate"`
	FilesDeleted  int64 `json:"filesDeleted"`
	FilesIgnored  int64 `json:"filesIgnored"`
	DirsCreated   int64 `json:"dirsCreated"`
	DirsDeleted   int64 `json:"dirsDeleted"`
	DirsIgnored   int64 `json:"dirsIgnored"`
}

// MetafileContent holds the contents of the metadata file.
type MetafileContent struct {
	Version        string       `json:"version"`
	TimestampUTC   time.Time    `json:"timestampUTC"`
	DurationMillis int64        `json:"durationMillis"`
	Source         string       `json:"source"`
	Counters       PassCounters `json:"counters"`
}

// Write creates and writes the metadata file into a given directory.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	if err := os.WriteFile(metaFilePath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}

	return nil
}

// Read opens and parses the metadata file in a given directory.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return MetafileContent{}, err // Return the original error so os.IsNotExist works.
	}
	defer metaFile.Close()

	data, err := io.ReadAll(metaFile)
	if err != nil {
		return MetafileContent{}, fmt.Errorf("could not read meta file %s: %w", metaFilePath, err)
	}

	var content MetafileContent
	if err := json.Unmarshal(data, &content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse meta file %s: %w", metaFilePath, err)
	}
	return content, nil
}
