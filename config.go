/*
	SlideChunk, chunked tile cache for very large raster images
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/maxsupermanhd/lac"
)

var cfg *lac.Conf

func configPath() string {
	path := os.Getenv("SLIDECHUNK_CONFIG")
	if path == "" {
		path = "config.json"
	}
	return path
}

func loadConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}
	path := configPath()
	c, err := lac.FromFileJSON(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("Config %s not found, running with defaults", path)
		cfg = lac.NewConf()
		return nil
	}
	if err != nil {
		return err
	}
	cfg = c
	return nil
}
