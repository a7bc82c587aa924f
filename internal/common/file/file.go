package file

import "os"

// Exists returns a bool indicating if the specified file exists or not. It
// returns false if any error is encountered in checking for the file's
// existence.
func Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
