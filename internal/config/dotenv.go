package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads .env files into the process environment in the dev
// environment only. Missing files are not an error; values already set in
// the environment win.
func LoadDotEnv(files ...string) (bool, error) {
	env, err := CurrentEnvironment()
	if err != nil {
		return false, err
	}
	if env != EnvDevelopment {
		return false, nil
	}

	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
