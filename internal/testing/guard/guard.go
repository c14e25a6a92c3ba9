package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("REGISTRA_TEST_MODE") == "" {
			_ = os.Setenv("REGISTRA_TEST_MODE", "1")
		}
	})
}
