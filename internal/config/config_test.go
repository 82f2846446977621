package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/MuscularCrab/SolSolve/internal/utils"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	test.That(t, c.Validate(), test.ShouldBeNil)
	test.That(t, c.Crops.Count, test.ShouldEqual, 10)
	test.That(t, c.Models.DetectorInputSize, test.ShouldEqual, 416)
	test.That(t, c.Balance.Policy, test.ShouldEqual, "warn")
	test.That(t, c.Path("models"), test.ShouldEqual, "models")
	test.That(t, c.Path("/abs/models"), test.ShouldEqual, "/abs/models")

	// Every image type the organizer understands is picked up by default.
	test.That(t, c.Organizer.Extensions, test.ShouldResemble, utils.DefaultImageExtensions)
	test.That(t, c.Organizer.Extensions, test.ShouldContain, "bmp")
	test.That(t, c.Organizer.Extensions, test.ShouldContain, "tiff")
	c.Organizer.Extensions[0] = "gif"
	test.That(t, utils.DefaultImageExtensions[0], test.ShouldEqual, "jpg")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	c := Default()
	seed := int64(42)
	c.Crops.Seed = &seed
	c.Vision.Backend = "llamacpp"
	test.That(t, c.SaveToFile(path), test.ShouldBeNil)

	loaded, err := LoadFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldResemble, c)

	// Partial files keep defaults for everything else.
	partial := filepath.Join(t.TempDir(), "partial.json")
	test.That(t, os.WriteFile(partial, []byte(`{"crops": {"count": 25}}`), 0o644), test.ShouldBeNil)
	loaded, err = Load(partial)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Crops.Count, test.ShouldEqual, 25)
	test.That(t, loaded.Crops.MaxSize, test.ShouldEqual, 128)
	test.That(t, loaded.Training.Python, test.ShouldEqual, "python3")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"crops": `), 0o644), test.ShouldBeNil)
	_, err = LoadFromFile(bad)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(c *Config)
		msg    string
	}{
		{"ratio", func(c *Config) { c.Organizer.TrainRatio = 1.5 }, "organizer.train_ratio"},
		{"crop sizes", func(c *Config) { c.Crops.MinSize = 200 }, "crops.min_size"},
		{"interval", func(c *Config) { c.Video.Interval = 0 }, "video.interval"},
		{"policy", func(c *Config) { c.Balance.Policy = "ignore" }, "balance.policy"},
		{"backend", func(c *Config) { c.Vision.Backend = "openai" }, "vision"},
		{"quality", func(c *Config) { c.Output.Quality = 0 }, "output.quality"},
		{"format", func(c *Config) { c.Output.Format = "gif" }, "output.format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	test.That(t, os.WriteFile(envFile, []byte("CARDPREP_VISION_MODEL=llava:13b\nCARDPREP_SEED=7\n"), 0o644), test.ShouldBeNil)
	t.Setenv("CARDPREP_VISION_MODEL", "")
	t.Setenv("CARDPREP_SEED", "")
	os.Unsetenv("CARDPREP_VISION_MODEL")
	os.Unsetenv("CARDPREP_SEED")
	t.Setenv("CARDPREP_ROOT", "/data/cards")

	test.That(t, LoadEnv(envFile), test.ShouldBeNil)
	c := Default()
	test.That(t, c.ApplyEnv(), test.ShouldBeNil)
	test.That(t, c.Vision.Model, test.ShouldEqual, "llava:13b")
	test.That(t, *c.Organizer.Seed, test.ShouldEqual, int64(7))
	test.That(t, *c.Crops.Seed, test.ShouldEqual, int64(7))
	test.That(t, c.Output.Root, test.ShouldEqual, "/data/cards")
	test.That(t, c.Path("models"), test.ShouldEqual, "/data/cards/models")

	t.Setenv("CARDPREP_WORKERS", "many")
	err := Default().ApplyEnv()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "CARDPREP_WORKERS")

	test.That(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")), test.ShouldNotBeNil)
}
