package labserver

import (
	"os"
	"path/filepath"
)

// Assets is a minimal tree the full mode can serve, keyed by slash path
// relative to the assets root.
var Assets = map[string][]byte{
	"html/test.html":  []byte("<html><head><title>lab8</title></head><body><img src=\"/assets/logo.jpg\"></body></html>\n"),
	"html/noimg.html": []byte("<html><head><title>lab8</title></head><body>no image</body></html>\n"),
	"txt/test.txt":    []byte("lab8 reference server\n"),
	"txt/other.txt":   []byte("wrong file\n"),
	"img/logo.jpg":    {0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0xff, 0xd9},
}

// WriteAssets materialises Assets under dir.
func WriteAssets(dir string) error {
	for name, data := range Assets {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
	}
	return nil
}
